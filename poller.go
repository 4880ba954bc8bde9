package main

import (
	"time"

	"dxfeed/ingest"
)

const (
	minRetryBackoff = 2 * time.Second
	maxRetryBackoff = 60 * time.Second
)

type pollTarget interface {
	Poll() error
	Connected() bool
	Stats() ingest.Stats
}

// poller paces Engine.Poll so a dead or unreachable cluster is retried with
// exponential backoff instead of on every tick.
type poller struct {
	engine  pollTarget
	now     func() time.Time
	backoff time.Duration
	retryAt time.Time
	lastErr error
}

func newPoller(engine pollTarget) *poller {
	return &poller{engine: engine, now: time.Now}
}

// Purpose: Run one supervisor step unless a reconnect backoff is pending.
// Key aspects: A failure that leaves the engine disconnected doubles the wait
// up to maxRetryBackoff; any clean poll resets it.
// Upstream: the poll ticker via Surface.Schedule.
// Downstream: ingest.Engine.Poll.
func (p *poller) tick() {
	now := p.now()
	if !p.retryAt.IsZero() && now.Before(p.retryAt) {
		return
	}
	err := p.engine.Poll()
	p.lastErr = err
	if err != nil && !p.engine.Connected() {
		switch {
		case p.backoff == 0:
			p.backoff = minRetryBackoff
		case p.backoff < maxRetryBackoff:
			p.backoff *= 2
			if p.backoff > maxRetryBackoff {
				p.backoff = maxRetryBackoff
			}
		}
		p.retryAt = now.Add(p.backoff)
		return
	}
	p.backoff = 0
	p.retryAt = time.Time{}
}

// reset drops any pending backoff, e.g. after a configuration reload.
func (p *poller) reset() {
	p.backoff = 0
	p.retryAt = time.Time{}
}

// Package ingest is the connection supervisor. The outer loop calls
// Engine.Poll once per tick; Poll opens a session on demand, drains whatever
// the session has queued, turns it into positioned spots and hands them to the
// spot list and the sinks. Every wait inside Poll is bounded and Poll never
// starts goroutines, so the engine is driven from a single goroutine.
package ingest

import (
	"log"
	"time"

	"dxfeed/cluster"
	"dxfeed/config"
	"dxfeed/geo"
	"dxfeed/geocache"
	"dxfeed/metrics"
	"dxfeed/spot"
	"dxfeed/store"
	"dxfeed/transport"
)

// Settings is the live view of the operator configuration. It is consulted on
// every poll, so a reload takes effect on the next tick.
type Settings interface {
	OperatorCallsign() string
	ReferencePosition() geo.LatLong
	ClusterHost() string
	ClusterPort() int
	ClusterEnabled() bool
}

// Resolver converts between locators and coordinates.
type Resolver interface {
	GridToLatLong(grid string) (geo.LatLong, error)
	LatLongToGrid(p geo.LatLong) string
	Destination(ref geo.LatLong, headingDeg, distanceMi float64) geo.LatLong
}

// Renderer draws the spot list and the session error line.
type Renderer interface {
	store.Renderer
	// ShowError replaces the spot list with a short message; "" clears it.
	ShowError(msg string)
}

// Sink receives every accepted spot. Enqueue must not block.
type Sink interface {
	Enqueue(s *spot.Spot)
}

// Enricher fills country and prefix fields.
type Enricher interface {
	Enrich(s *spot.Spot)
}

// PositionCache remembers resolved positions across sessions.
type PositionCache interface {
	Get(call string) (geocache.Entry, bool)
	Put(call string, pos geo.LatLong) error
}

// Options wires the engine. Dialer, Settings and Renderer are required; the
// rest have defaults.
type Options struct {
	Dialer   transport.Dialer
	Settings Settings
	Resolver Resolver
	Renderer Renderer

	Store          store.Options
	AllowARCluster bool

	ConnectTimeout time.Duration
	LineWait       time.Duration
	PollWait       time.Duration
	Keepalive      time.Duration
	StaleAfter     time.Duration

	MaxLinesPerPoll     int
	MaxDatagramsPerPoll int
	MaxLineLen          int
	DetectMaxLines      int
	HeadingMaxLines     int
	// MaxHeadingQueries caps cluster heading queries per poll; spot lines
	// needing more stay on the backlog for the next tick.
	MaxHeadingQueries int

	Geocache PositionCache
	CTY      Enricher
	Sinks    []Sink
	Metrics  *metrics.Tracker

	// Now is the clock; tests replace it.
	Now func() time.Time
}

const (
	DefaultPollWait            = 50 * time.Millisecond
	DefaultKeepalive           = 300 * time.Second
	DefaultStaleAfter          = 120 * time.Second
	DefaultMaxLinesPerPoll     = 64
	DefaultMaxDatagramsPerPoll = 32
	DefaultMaxHeadingQueries   = 4
)

// OptionsFromConfig fills the policy fields from cfg. Collaborators are left
// for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	sec := func(v int) time.Duration { return time.Duration(v) * time.Second }
	return Options{
		Store: store.Options{
			MaxRows:      cfg.Ingest.MaxSpots,
			ToleranceKHz: cfg.Ingest.DedupToleranceKHz,
			UsePrefix:    cfg.UsePrefixLabels(),
		},
		AllowARCluster:      cfg.Cluster.AllowARCluster,
		ConnectTimeout:      ms(cfg.Cluster.ConnectTimeoutMS),
		LineWait:            ms(cfg.Ingest.LineWaitMS),
		PollWait:            ms(cfg.Ingest.PollWaitMS),
		Keepalive:           sec(cfg.Ingest.KeepaliveSeconds),
		StaleAfter:          sec(cfg.Ingest.StaleSeconds),
		MaxLinesPerPoll:     cfg.Ingest.MaxLinesPerPoll,
		MaxDatagramsPerPoll: cfg.Ingest.MaxDatagramsPerPoll,
		MaxLineLen:          cfg.Ingest.MaxLineLength,
		DetectMaxLines:      cfg.Ingest.DetectMaxLines,
		HeadingMaxLines:     cfg.Ingest.HeadingMaxLines,
		MaxHeadingQueries:   cfg.Ingest.MaxHeadingQueries,
	}
}

func (o Options) withDefaults() Options {
	if o.Resolver == nil {
		o.Resolver = geo.Resolver{}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = cluster.DefaultConnectTimeout
	}
	if o.LineWait <= 0 {
		o.LineWait = cluster.DefaultLineWait
	}
	if o.PollWait <= 0 {
		o.PollWait = DefaultPollWait
	}
	if o.Keepalive <= 0 {
		o.Keepalive = DefaultKeepalive
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.MaxLinesPerPoll <= 0 {
		o.MaxLinesPerPoll = DefaultMaxLinesPerPoll
	}
	if o.MaxDatagramsPerPoll <= 0 {
		o.MaxDatagramsPerPoll = DefaultMaxDatagramsPerPoll
	}
	if o.MaxLineLen <= 0 {
		o.MaxLineLen = cluster.DefaultMaxLineLen
	}
	if o.DetectMaxLines <= 0 {
		o.DetectMaxLines = cluster.DefaultDetectMaxLines
	}
	if o.HeadingMaxLines <= 0 {
		o.HeadingMaxLines = cluster.DefaultHeadingMaxLines
	}
	if o.MaxHeadingQueries <= 0 {
		o.MaxHeadingQueries = DefaultMaxHeadingQueries
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine owns the session and the spot list.
type Engine struct {
	opts  Options
	store *store.Store

	sess *cluster.Session
	// backlog holds lines already read from the stream but not yet routed:
	// spot lines seen during the handshake and lines skipped while waiting
	// for a heading answer.
	backlog []string
	// queriesLeft is the heading-query budget for the current poll.
	queriesLeft int

	lastActivity   time.Time
	disconnectedAt time.Time
	lastPayload    uint64
	havePayload    bool
	errorShown     bool
}

// New builds an engine. No connection is made until the first Poll.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:  opts,
		store: store.New(opts.Renderer, opts.Store),
	}
}

// Close tears down the session, if any. The spot list is kept.
func (e *Engine) Close(reason string) {
	if e.sess != nil {
		e.teardown(reason)
	}
}

// Connected reports whether a live session exists.
func (e *Engine) Connected() bool {
	if e.sess == nil {
		return false
	}
	if e.sess.Stream != nil {
		return e.sess.Stream.IsConnected()
	}
	return true
}

// Dialect returns the current session's dialect, or cluster.Unknown.
func (e *Engine) Dialect() cluster.Kind {
	if e.sess == nil {
		return cluster.Unknown
	}
	return e.sess.Kind
}

// Spots returns copies of the held spots, oldest first.
func (e *Engine) Spots() []spot.Spot { return e.store.Spots() }

// HitTest returns the newest spot whose label contains (x, y).
func (e *Engine) HitTest(x, y int) (*spot.Spot, bool) { return e.store.HitTest(x, y) }

// Restore seeds the spot list from history given newest first, as the
// archive returns it. Spots older than the staleness ceiling are skipped and
// nothing is sent to the sinks. It returns how many spots were inserted.
func (e *Engine) Restore(history []spot.Spot) int {
	now := e.opts.Now()
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		s.Anchor = nil
		if s.Received.IsZero() || now.Sub(s.Received) > e.opts.StaleAfter {
			continue
		}
		if e.store.Insert(&s) {
			n++
		}
	}
	e.opts.Metrics.SetHeld(e.store.Len())
	return n
}

// Relabel switches between call and prefix labels.
func (e *Engine) Relabel(usePrefix bool) {
	e.opts.Store.UsePrefix = usePrefix
	e.store.Relabel(usePrefix)
}

// Stats describes the engine for status lines.
type Stats struct {
	Connected    bool
	Dialect      cluster.Kind
	Host         string
	Port         int
	Held         int
	Backlog      int
	LastActivity time.Time
}

func (e *Engine) Stats() Stats {
	st := Stats{
		Connected:    e.Connected(),
		Dialect:      e.Dialect(),
		Held:         e.store.Len(),
		Backlog:      len(e.backlog),
		LastActivity: e.lastActivity,
	}
	if e.sess != nil {
		st.Host, st.Port = e.sess.Host, e.sess.Port
	}
	return st
}

func (e *Engine) teardown(reason string) {
	log.Printf("Ingest: closing %s session to %s:%d (%s)", e.sess.Kind, e.sess.Host, e.sess.Port, reason)
	if err := e.sess.Close(); err != nil {
		log.Printf("Ingest: close: %v", err)
	}
	e.sess = nil
	e.backlog = nil
	e.havePayload = false
	e.disconnectedAt = e.opts.Now()
}

// clearIfStale empties the spot list once the session has been gone longer
// than the staleness ceiling.
func (e *Engine) clearIfStale(now time.Time) {
	if e.disconnectedAt.IsZero() || now.Sub(e.disconnectedAt) <= e.opts.StaleAfter {
		return
	}
	if e.store.Len() > 0 {
		log.Printf("Ingest: no session for %s, clearing %d spots", now.Sub(e.disconnectedAt).Round(time.Second), e.store.Len())
		e.store.Clear()
		e.opts.Metrics.SetHeld(0)
	}
	e.disconnectedAt = time.Time{}
}

func (e *Engine) showError(msg string) {
	if msg == "" || e.opts.Renderer == nil {
		return
	}
	e.opts.Renderer.ShowError(msg)
	e.errorShown = true
}

func (e *Engine) clearError() {
	if !e.errorShown || e.opts.Renderer == nil {
		return
	}
	e.opts.Renderer.ShowError("")
	e.errorShown = false
}

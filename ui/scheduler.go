package ui

import (
	"sync"
	"time"
)

// frameScheduler coalesces work by key and hands each frame's batch to apply.
// A key scheduled twice before a frame runs only its latest function; keys
// run in the order they were first scheduled.
type frameScheduler struct {
	apply func(func())

	mu      sync.Mutex
	pending map[string]func()
	order   []string

	frame    time.Duration
	quit     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

func newFrameScheduler(apply func(func()), targetFPS int) *frameScheduler {
	if targetFPS <= 0 {
		targetFPS = 30
	}
	if apply == nil {
		apply = func(fn func()) { fn() }
	}
	return &frameScheduler{
		apply:   apply,
		pending: make(map[string]func()),
		frame:   time.Second / time.Duration(targetFPS),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (f *frameScheduler) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	go f.run()
}

// Stop flushes whatever is pending and stops the frame loop.
func (f *frameScheduler) Stop() {
	f.stopOnce.Do(func() {
		close(f.quit)
		f.mu.Lock()
		started := f.started
		f.mu.Unlock()
		if started {
			<-f.done
		}
	})
}

func (f *frameScheduler) Schedule(key string, fn func()) {
	if f == nil {
		return
	}
	f.mu.Lock()
	if _, ok := f.pending[key]; !ok {
		f.order = append(f.order, key)
	}
	f.pending[key] = fn
	f.mu.Unlock()
}

func (f *frameScheduler) run() {
	defer close(f.done)
	ticker := time.NewTicker(f.frame)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.quit:
			f.flush()
			return
		}
	}
}

func (f *frameScheduler) flush() {
	f.mu.Lock()
	if len(f.order) == 0 {
		f.mu.Unlock()
		return
	}
	batch := make([]func(), 0, len(f.order))
	for _, key := range f.order {
		batch = append(batch, f.pending[key])
		delete(f.pending, key)
	}
	f.order = f.order[:0]
	f.mu.Unlock()

	f.apply(func() {
		for _, fn := range batch {
			fn()
		}
	})
}

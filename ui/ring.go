package ui

import (
	"bytes"
	"sync"
)

// lineRing keeps the most recent log lines for the log pane. Lines longer
// than maxLineBytes are truncated rather than dropped.
type lineRing struct {
	mu           sync.RWMutex
	lines        []string
	head         int
	count        int
	maxLineBytes int
}

func newLineRing(maxLines, maxLineBytes int) *lineRing {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &lineRing{lines: make([]string, maxLines), maxLineBytes: maxLineBytes}
}

// Append adds line, evicting the oldest when full.
func (r *lineRing) Append(line string) {
	if r.maxLineBytes > 0 && len(line) > r.maxLineBytes {
		line = line[:r.maxLineBytes]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := (r.head + r.count) % len(r.lines)
	r.lines[pos] = line
	if r.count < len(r.lines) {
		r.count++
		return
	}
	r.head = (r.head + 1) % len(r.lines)
}

// Lines returns the held lines, oldest first.
func (r *lineRing) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.head+i)%len(r.lines)]
	}
	return out
}

// paneWriterMaxBytes bounds a partial line held between writes.
const paneWriterMaxBytes = 64 * 1024

// paneWriter splits writes into lines for a lineRing and calls changed after
// every write that completed at least one line.
type paneWriter struct {
	mu      sync.Mutex
	ring    *lineRing
	partial []byte
	changed func()
}

func (w *paneWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.partial = append(w.partial, p...)
	added := false
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.ring.Append(string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
		added = true
	}
	if len(w.partial) > paneWriterMaxBytes {
		w.ring.Append(string(w.partial[:paneWriterMaxBytes]))
		w.partial = w.partial[:0]
		added = true
	}
	w.mu.Unlock()
	if added && w.changed != nil {
		w.changed()
	}
	return len(p), nil
}

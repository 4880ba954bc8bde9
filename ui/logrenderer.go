package ui

import (
	"context"
	"io"
	"log"
	"os"
	"slices"
	"sync"

	"dxfeed/geo"
	"dxfeed/spot"
)

// LogRenderer is the headless surface. Labels are projected onto the same
// grid the console uses so hit-tests behave the same, and each new spot is
// logged once.
type LogRenderer struct {
	run sync.Mutex // serialises scheduled work

	mu      sync.Mutex
	rows    []*spot.Spot
	lastErr string
}

func NewLogRenderer() *LogRenderer { return &LogRenderer{} }

func (r *LogRenderer) PlaceLabel(label string, pos geo.LatLong) spot.Anchor {
	return mapProjection.Label(label, pos)
}

func (r *LogRenderer) RemoveLabel(spot.Anchor) {}

// RedrawRow logs spots it has not shown before. Shifted rows and relabels
// redraw spots already shown.
func (r *LogRenderer) RedrawRow(index int, s *spot.Spot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.rows) <= index {
		r.rows = append(r.rows, nil)
	}
	if s != nil && !slices.Contains(r.rows, s) {
		log.Printf("Spot: %s", Describe(s))
	}
	r.rows[index] = s
}

func (r *LogRenderer) ShowError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg == r.lastErr {
		return
	}
	r.lastErr = msg
	if msg != "" {
		log.Printf("Spots: %s", msg)
	}
}

// Schedule runs fn inline, serialised with other scheduled work.
func (r *LogRenderer) Schedule(_ string, fn func()) {
	r.run.Lock()
	defer r.run.Unlock()
	fn()
}

func (r *LogRenderer) SetStatus(line string) { log.Print(line) }

func (r *LogRenderer) LogWriter() io.Writer { return os.Stdout }

func (r *LogRenderer) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

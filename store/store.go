// Package store holds the short, ordered list of spots currently on display.
//
// The store owns ordering, de-duplication and eviction. The renderer owns
// everything visual: it places a label for each accepted spot and hands back
// an anchor the store keeps only so hit-tests can be answered later.
package store

import (
	"math"

	"dxfeed/geo"
	"dxfeed/spot"
)

// Renderer receives every visible change the store makes.
type Renderer interface {
	// PlaceLabel draws label at pos and returns its hit-test anchor.
	PlaceLabel(label string, pos geo.LatLong) spot.Anchor
	// RemoveLabel erases a label previously returned by PlaceLabel.
	RemoveLabel(a spot.Anchor)
	// RedrawRow repaints list row index. s is nil when the row is now empty.
	RedrawRow(index int, s *spot.Spot)
}

const (
	DefaultMaxRows      = 10
	DefaultToleranceKHz = 0.1
	toleranceEpsilonKHz = 1e-6
)

type Options struct {
	MaxRows      int
	ToleranceKHz float64
	// UsePrefix labels spots with their prefix instead of the full call.
	UsePrefix bool
}

// Store is not safe for concurrent use; the ingest engine drives it from a
// single goroutine.
type Store struct {
	rows []*spot.Spot
	r    Renderer
	opts Options
}

func New(r Renderer, opts Options) *Store {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.ToleranceKHz <= 0 {
		opts.ToleranceKHz = DefaultToleranceKHz
	}
	if r == nil {
		r = nopRenderer{}
	}
	return &Store{rows: make([]*spot.Spot, 0, opts.MaxRows), r: r, opts: opts}
}

// Purpose: Decide whether a candidate repeats the newest held spot.
// Key aspects: Compares call and frequency within the configured tolerance.
// Upstream: ingest routeLine/routeStatus before geocoding, Insert.
// Downstream: None.
// WouldRepeat reports whether a spot for call on freqKHz would be dropped as
// a repeat of the most recent insert.
func (st *Store) WouldRepeat(call string, freqKHz float64) bool {
	if len(st.rows) == 0 {
		return false
	}
	last := st.rows[len(st.rows)-1]
	if last.Call != spot.NormalizeCallsign(call) {
		return false
	}
	return math.Abs(last.FreqKHz-freqKHz) <= st.opts.ToleranceKHz+toleranceEpsilonKHz
}

// Purpose: Add a positioned spot, evicting the oldest when full.
// Key aspects: Eviction removes the old label and redraws every row; otherwise only the new row is drawn.
// Upstream: ingest.Engine.accept, Engine.Restore.
// Downstream: Renderer.PlaceLabel/RemoveLabel/RedrawRow.
// Insert adds s to the end of the list and reports whether it is now shown.
// Unresolved spots and repeats are dropped. When the list is full the oldest
// row is evicted first and every remaining row is redrawn in its new slot.
func (st *Store) Insert(s *spot.Spot) bool {
	if !s.Resolved() || st.WouldRepeat(s.Call, s.FreqKHz) {
		return false
	}
	shifted := false
	if len(st.rows) >= st.opts.MaxRows {
		evicted := st.rows[0]
		st.r.RemoveLabel(evicted.Anchor)
		evicted.Anchor = nil
		copy(st.rows, st.rows[1:])
		st.rows[len(st.rows)-1] = nil
		st.rows = st.rows[:len(st.rows)-1]
		shifted = true
	}
	s.Anchor = st.r.PlaceLabel(s.Label(st.opts.UsePrefix), s.Position)
	st.rows = append(st.rows, s)
	if shifted {
		for i, row := range st.rows {
			st.r.RedrawRow(i, row)
		}
	} else {
		st.r.RedrawRow(len(st.rows)-1, s)
	}
	return true
}

// Clear removes every spot and blanks the rows it occupied.
func (st *Store) Clear() {
	for i, row := range st.rows {
		st.r.RemoveLabel(row.Anchor)
		row.Anchor = nil
		st.r.RedrawRow(i, nil)
		st.rows[i] = nil
	}
	st.rows = st.rows[:0]
}

func (st *Store) Len() int { return len(st.rows) }

// Spots returns copies of the held spots, oldest first.
func (st *Store) Spots() []spot.Spot {
	out := make([]spot.Spot, len(st.rows))
	for i, row := range st.rows {
		out[i] = *row
	}
	return out
}

// HitTest returns the spot whose label contains (x, y). Newer labels are drawn
// over older ones, so they win.
func (st *Store) HitTest(x, y int) (*spot.Spot, bool) {
	for i := len(st.rows) - 1; i >= 0; i-- {
		if a := st.rows[i].Anchor; a != nil && a.Contains(x, y) {
			return st.rows[i], true
		}
	}
	return nil, false
}

// Relabel re-places every label, switching label style. Renderers call it
// after a redraw invalidates their anchors.
func (st *Store) Relabel(usePrefix bool) {
	st.opts.UsePrefix = usePrefix
	for i, row := range st.rows {
		st.r.RemoveLabel(row.Anchor)
		row.Anchor = st.r.PlaceLabel(row.Label(usePrefix), row.Position)
		st.r.RedrawRow(i, row)
	}
}

type nopRenderer struct{}

func (nopRenderer) PlaceLabel(string, geo.LatLong) spot.Anchor { return nil }
func (nopRenderer) RemoveLabel(spot.Anchor)                    {}
func (nopRenderer) RedrawRow(int, *spot.Spot)                  {}

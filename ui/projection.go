package ui

import (
	"math"

	"dxfeed/geo"
)

// Projection maps positions onto a character grid: equirectangular, with
// longitude -180 at column 0 and latitude +90 at row 0.
type Projection struct {
	Width  int
	Height int
}

// Point returns the cell holding pos, clamped to the grid.
func (p Projection) Point(pos geo.LatLong) (x, y int) {
	x = int(math.Floor((pos.Lon + 180) / 360 * float64(p.Width)))
	y = int(math.Floor((90 - pos.Lat) / 180 * float64(p.Height)))
	return clamp(x, 0, p.Width-1), clamp(y, 0, p.Height-1)
}

// Label places text next to the marker for pos. The text goes right of the
// marker unless that would run off the grid.
func (p Projection) Label(text string, pos geo.LatLong) *LabelAnchor {
	mx, my := p.Point(pos)
	a := &LabelAnchor{MarkerX: mx, Y: my, Text: text, X: mx + 1}
	if a.X+len(text) > p.Width {
		a.X = mx - len(text)
	}
	return a
}

// LabelAnchor is a placed label. It satisfies spot.Anchor.
type LabelAnchor struct {
	MarkerX int
	X       int
	Y       int
	Text    string
}

// Contains reports whether (x, y) falls on the marker or the label text.
func (a *LabelAnchor) Contains(x, y int) bool {
	if a == nil || y != a.Y {
		return false
	}
	if x == a.MarkerX {
		return true
	}
	return x >= a.X && x < a.X+len(a.Text)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package ui

import (
	"sync"

	"dxfeed/geo"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	landStyle   = tcell.StyleDefault.Foreground(tcell.ColorDarkOliveGreen)
	homeStyle   = tcell.StyleDefault.Foreground(tcell.ColorHotPink).Bold(true)
	markerStyle = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	labelStyle  = tcell.StyleDefault.Foreground(tcell.ColorWhite)
)

// MapView draws the world map, the home marker and the spot labels. Label
// coordinates are map cells relative to the inner rect.
type MapView struct {
	*tview.Box

	mu      sync.Mutex
	home    geo.LatLong
	labels  []*LabelAnchor
	onClick func(x, y int)
}

func NewMapView(home geo.LatLong) *MapView {
	m := &MapView{Box: tview.NewBox(), home: home}
	m.SetBorder(true).SetTitle(" Spots ").SetBorderColor(tcell.ColorGray)
	return m
}

// SetHome moves the home marker.
func (m *MapView) SetHome(home geo.LatLong) {
	m.mu.Lock()
	m.home = home
	m.mu.Unlock()
}

// SetClickHandler registers fn for left clicks inside the map. Coordinates
// are in map cells and match LabelAnchor.Contains.
func (m *MapView) SetClickHandler(fn func(x, y int)) {
	m.onClick = fn
}

func (m *MapView) place(text string, pos geo.LatLong) *LabelAnchor {
	a := mapProjection.Label(text, pos)
	m.mu.Lock()
	m.labels = append(m.labels, a)
	m.mu.Unlock()
	return a
}

func (m *MapView) remove(a *LabelAnchor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.labels {
		if l == a {
			m.labels = append(m.labels[:i], m.labels[i+1:]...)
			return
		}
	}
}

// Draw renders the map. Later labels are drawn over earlier ones.
func (m *MapView) Draw(screen tcell.Screen) {
	m.DrawForSubclass(screen, m)
	x0, y0, w, h := m.GetInnerRect()
	set := func(x, y int, r rune, style tcell.Style) {
		if x < 0 || y < 0 || x >= w || y >= h {
			return
		}
		screen.SetContent(x0+x, y0+y, r, nil, style)
	}

	for row, line := range worldMap {
		for col, r := range line {
			if r != ' ' {
				set(col, row, r, landStyle)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	hx, hy := mapProjection.Point(m.home)
	set(hx, hy, '@', homeStyle)
	for _, a := range m.labels {
		set(a.MarkerX, a.Y, '*', markerStyle)
		for i, r := range a.Text {
			set(a.X+i, a.Y, r, labelStyle)
		}
	}
}

// MouseHandler forwards left clicks to the click handler.
func (m *MapView) MouseHandler() func(action tview.MouseAction, event *tcell.EventMouse, setFocus func(p tview.Primitive)) (consumed bool, capture tview.Primitive) {
	return m.WrapMouseHandler(func(action tview.MouseAction, event *tcell.EventMouse, setFocus func(p tview.Primitive)) (bool, tview.Primitive) {
		x, y := event.Position()
		if action != tview.MouseLeftClick || !m.InRect(x, y) {
			return false, nil
		}
		x0, y0, _, _ := m.GetInnerRect()
		if m.onClick != nil {
			m.onClick(x-x0, y-y0)
		}
		return true, nil
	})
}

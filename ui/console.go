package ui

import (
	"context"
	"io"
	"log"
	"strings"

	"dxfeed/geo"
	"dxfeed/spot"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ConsoleOptions configures the tview console.
type ConsoleOptions struct {
	Home      geo.LatLong
	Title     string
	TargetFPS int
	LogLines  int
	// OnRune receives keys the console does not handle itself.
	OnRune func(r rune)
}

// Console renders spots on a world map with a spot list, a status line and a
// log pane. Renderer methods must run on the tview event goroutine, which is
// where Schedule puts them.
type Console struct {
	app    *tview.Application
	mapv   *MapView
	table  *tview.Table
	pages  *tview.Pages
	errBox *tview.TextView
	status *tview.TextView
	logv   *tview.TextView
	logs   *lineRing
	sched  *frameScheduler
	writer *paneWriter
	onRune func(r rune)
}

func NewConsole(opts ConsoleOptions) *Console {
	if opts.LogLines <= 0 {
		opts.LogLines = 200
	}
	if opts.Title == "" {
		opts.Title = "dxfeed"
	}
	c := &Console{
		app:    tview.NewApplication().EnableMouse(true),
		mapv:   NewMapView(opts.Home),
		table:  tview.NewTable().SetFixed(1, 0),
		pages:  tview.NewPages(),
		errBox: tview.NewTextView().SetTextAlign(tview.AlignCenter),
		status: tview.NewTextView().SetDynamicColors(true),
		logv:   tview.NewTextView(),
		logs:   newLineRing(opts.LogLines, 512),
		onRune: opts.OnRune,
	}
	c.sched = newFrameScheduler(func(fn func()) { c.app.QueueUpdateDraw(fn) }, opts.TargetFPS)
	c.writer = &paneWriter{ring: c.logs, changed: func() {
		c.sched.Schedule("log", c.refreshLog)
	}}

	for i, name := range spotColumns {
		c.table.SetCell(0, i, tview.NewTableCell(name).SetTextColor(tcell.ColorHotPink).SetSelectable(false))
	}
	c.table.SetBorder(true).SetTitle(" " + opts.Title + " ").SetBorderColor(tcell.ColorGray)
	c.errBox.SetBorder(true).SetBorderColor(tcell.ColorRed)
	c.logv.SetBorder(true).SetTitle(" Log ").SetBorderColor(tcell.ColorGray)
	c.pages.AddPage("spots", c.table, true, true)
	c.pages.AddPage("error", c.errBox, true, false)

	top := tview.NewFlex().
		AddItem(c.mapv, mapWidth+2, 0, false).
		AddItem(c.pages, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, mapHeight+2, 0, false).
		AddItem(c.status, 1, 0, false).
		AddItem(c.logv, 0, 1, false)
	c.app.SetRoot(root, true)
	c.app.SetInputCapture(c.handleKey)
	return c
}

// SetClickHandler registers fn for clicks on the map, in map cells.
func (c *Console) SetClickHandler(fn func(x, y int)) { c.mapv.SetClickHandler(fn) }

// SetHome moves the station marker, e.g. after a reload changed the grid.
func (c *Console) SetHome(home geo.LatLong) { c.mapv.SetHome(home) }

func (c *Console) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEsc, event.Rune() == 'q':
		c.app.Stop()
		return nil
	case event.Key() == tcell.KeyRune && c.onRune != nil:
		c.onRune(event.Rune())
		return nil
	}
	return event
}

func (c *Console) PlaceLabel(label string, pos geo.LatLong) spot.Anchor {
	return c.mapv.place(label, pos)
}

func (c *Console) RemoveLabel(a spot.Anchor) {
	if la, ok := a.(*LabelAnchor); ok {
		c.mapv.remove(la)
	}
}

// RedrawRow rewrites list row index; a nil spot blanks it.
func (c *Console) RedrawRow(index int, s *spot.Spot) {
	row := index + 1
	if s == nil {
		for col := range spotColumns {
			c.table.SetCell(row, col, tview.NewTableCell(""))
		}
		return
	}
	for col, text := range rowCells(s) {
		cell := tview.NewTableCell(text)
		if col == len(spotColumns)-1 {
			cell.SetExpansion(1)
		}
		c.table.SetCell(row, col, cell)
	}
}

// ShowError puts msg in place of the spot list; "" brings the list back.
func (c *Console) ShowError(msg string) {
	if msg == "" {
		c.pages.SwitchToPage("spots")
		return
	}
	c.errBox.SetText("\n" + msg)
	c.pages.SwitchToPage("error")
}

func (c *Console) SetStatus(line string) { c.status.SetText(line) }

func (c *Console) Schedule(key string, fn func()) { c.sched.Schedule(key, fn) }

func (c *Console) LogWriter() io.Writer { return c.writer }

func (c *Console) refreshLog() {
	c.logv.SetText(strings.Join(c.logs.Lines(), "\n"))
	c.logv.ScrollToEnd()
}

// Run starts the frame loop and the tview application and blocks until the
// user quits or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.app.Stop)
	defer stop()
	c.sched.Start()
	defer c.sched.Stop()
	if err := c.app.Run(); err != nil {
		log.Printf("UI: console error: %v", err)
		return err
	}
	return nil
}

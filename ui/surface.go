// Package ui holds the renderers the ingest engine draws through: a tview
// console with a world map and spot list, and a log-only renderer for
// headless runs.
package ui

import (
	"context"
	"io"

	"dxfeed/ingest"
)

// Surface is what the main loop drives. Engine calls must go through Schedule
// so they run on the goroutine that owns the renderer.
type Surface interface {
	ingest.Renderer
	// Schedule runs fn on the renderer's goroutine. Functions scheduled under
	// the same key before they run collapse into the latest one.
	Schedule(key string, fn func())
	// SetStatus replaces the status line. Call it from a scheduled function.
	SetStatus(line string)
	// LogWriter is where log output should go while the surface is running.
	LogWriter() io.Writer
	// Run blocks until ctx is cancelled or the user quits.
	Run(ctx context.Context) error
}

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dxfeed/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	maxLogBufferBytes  = 16 * 1024
)

type lineSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

type ioLineSink struct {
	w             io.Writer
	withTimestamp bool
}

// Purpose: Write log lines to an io.Writer with optional timestamp prefix.
// Key aspects: Always terminates with newline.
// Upstream: logFanout line dispatch.
// Downstream: io.Writer.Write.
func (s *ioLineSink) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.withTimestamp {
		line = formatLogTimestamp(now) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *ioLineSink) Close() error {
	return nil
}

// rotatingFileSink appends timestamped lines to a size-rotated log file.
type rotatingFileSink struct {
	mu          sync.Mutex
	out         *lumberjack.Logger
	lastErrorAt time.Time
}

// Purpose: Open the rotating log file described by cfg.
// Key aspects: Creates the directory up front so the first write cannot fail on it.
// Upstream: setupLogging.
// Downstream: os.MkdirAll and lumberjack.Logger.
func newRotatingFileSink(cfg config.LoggingConfig) (*rotatingFileSink, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	name := strings.TrimSpace(cfg.File)
	if name == "" {
		name = "dxfeed.log"
	}
	return &rotatingFileSink{out: &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}}, nil
}

func (s *rotatingFileSink) WriteLine(line string, now time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.out, formatLogTimestamp(now)+" "+line+"\n"); err != nil {
		if s.lastErrorAt.IsZero() || now.Sub(s.lastErrorAt) >= time.Minute {
			s.lastErrorAt = now
			fmt.Fprintf(os.Stderr, "Logging: write failed: %v\n", err)
		}
	}
}

func (s *rotatingFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

type logFanout struct {
	mu      sync.Mutex
	buf     []byte
	console lineSink
	file    lineSink
}

// Purpose: Create the log fanout writer for console/file duplication.
// Key aspects: Caller decides which sinks are active.
// Upstream: setupLogging.
// Downstream: log.SetOutput.
func newLogFanout(console lineSink, file lineSink) *logFanout {
	return &logFanout{
		console: console,
		file:    file,
	}
}

// Purpose: Wire logging based on config without blocking startup.
// Key aspects: Returns a fanout writer even when file logging fails.
// Upstream: main startup.
// Downstream: newRotatingFileSink.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logFanout, error) {
	fanout := newLogFanout(&ioLineSink{w: console, withTimestamp: true}, nil)
	if !cfg.Enabled {
		return fanout, nil
	}
	fileSink, err := newRotatingFileSink(cfg)
	if err != nil {
		return fanout, err
	}
	fanout.SetFileSink(fileSink)
	return fanout, nil
}

func (f *logFanout) SetFileSink(sink lineSink) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.file = sink
	f.mu.Unlock()
}

// Purpose: Fan out log output to console/UI and file sinks.
// Key aspects: Line-buffered with bounded internal storage.
// Upstream: log.Logger output.
// Downstream: lineSink.WriteLine.
func (f *logFanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	data := f.buf
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	if len(data) > maxLogBufferBytes {
		if trimmed := string(bytes.TrimRight(data, "\r")); trimmed != "" {
			lines = append(lines, trimmed)
		}
		data = data[:0]
	}
	f.buf = data
	console := f.console
	file := f.file
	f.mu.Unlock()

	now := time.Now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

// Purpose: Close all sinks owned by the fanout writer.
// Key aspects: Best-effort cleanup for process shutdown.
// Upstream: main shutdown.
// Downstream: lineSink.Close.
func (f *logFanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	console := f.console
	file := f.file
	f.mu.Unlock()

	if console != nil {
		_ = console.Close()
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

// Purpose: Write a single line only to the file sink (no console/UI output).
// Key aspects: Safe when file logging is disabled.
// Upstream: the stats summary loop while the console owns the screen.
// Downstream: lineSink.WriteLine.
func (f *logFanout) WriteFileOnlyLine(line string, now time.Time) {
	if f == nil {
		return
	}
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file != nil {
		file.WriteLine(line, now)
	}
}

func formatLogTimestamp(now time.Time) string {
	return now.UTC().Format(logTimestampLayout)
}

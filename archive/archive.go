// Package archive keeps a SQLite history of accepted spots. It sits outside the
// ingest hot path: spots are handed over through a bounded queue and written
// in batches by a background goroutine, and a full queue drops the write.
package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"dxfeed/config"
	"dxfeed/geo"
	"dxfeed/spot"

	_ "modernc.org/sqlite"
)

// Writer persists spots to SQLite asynchronously with age-based retention.
type Writer struct {
	cfg   config.ArchiveConfig
	db    *sql.DB
	queue chan spot.Spot
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
}

// Stats reports writer throughput.
type Stats struct {
	Written uint64
	Dropped uint64
	Queued  int
}

// Purpose: Open the SQLite history and prepare the writer.
// Key aspects: Runs preflight, applies pragmas and schema; queue and batch sizes get defaults.
// Upstream: main startup when archive.enabled.
// Downstream: preflight, ensureSchema.
// NewWriter opens (creating if needed) the database; call Start to begin processing.
func NewWriter(cfg config.ArchiveConfig) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	if _, err := preflight(cfg.DBPath, time.Duration(cfg.BusyTimeoutMS)*time.Millisecond); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	syncMode := cfg.Synchronous
	if syncMode == "" {
		syncMode = "normal"
	}
	pragmas := fmt.Sprintf("pragma journal_mode=WAL; pragma synchronous=%s; pragma busy_timeout=%d", syncMode, cfg.BusyTimeoutMS)
	if _, err := db.Exec(pragmas); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: pragmas: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchIntervalMS <= 0 {
		cfg.BatchIntervalMS = 500
	}
	return &Writer{
		cfg:   cfg,
		db:    db,
		queue: make(chan spot.Spot, cfg.QueueSize),
		stop:  make(chan struct{}),
	}, nil
}

// Start launches the insert and cleanup loops.
func (w *Writer) Start() {
	w.wg.Add(2)
	go w.insertLoop()
	go w.cleanupLoop()
}

// Stop flushes whatever is queued and closes the database.
func (w *Writer) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
		_ = w.db.Close()
	})
}

// Purpose: Hand a spot to the archive without blocking ingest.
// Key aspects: Copies the spot and drops the renderer anchor; a full queue counts a drop.
// Upstream: ingest.Engine.accept via the Sink interface.
// Downstream: insertLoop.
// Enqueue queues a copy of s without blocking; drops on a full queue.
func (w *Writer) Enqueue(s *spot.Spot) {
	if w == nil || s == nil {
		return
	}
	c := *s
	c.Anchor = nil
	select {
	case w.queue <- c:
	default:
		w.dropped.Add(1)
	}
}

func (w *Writer) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	return Stats{Written: w.written.Load(), Dropped: w.dropped.Load(), Queued: len(w.queue)}
}

func (w *Writer) insertLoop() {
	defer w.wg.Done()
	interval := time.Duration(w.cfg.BatchIntervalMS) * time.Millisecond
	batch := make([]spot.Spot, 0, w.cfg.BatchSize)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			for {
				select {
				case s := <-w.queue:
					batch = append(batch, s)
				default:
					w.flush(batch)
					return
				}
			}
		case s := <-w.queue:
			batch = append(batch, s)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-timer.C:
			w.flush(batch)
			batch = batch[:0]
			timer.Reset(interval)
		}
	}
}

// Purpose: Write one batch in a single transaction.
// Key aspects: A failed row is logged and skipped; the rest still commit.
// Upstream: insertLoop.
// Downstream: database/sql.
func (w *Writer) flush(batch []spot.Spot) {
	if len(batch) == 0 {
		return
	}
	tx, err := w.db.Begin()
	if err != nil {
		log.Printf("archive: begin tx: %v", err)
		return
	}
	stmt, err := tx.Prepare(`insert into spots(ts, utc, dx, de, freq, dx_grid, de_grid, lat, lon, comment, country, source) values(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		log.Printf("archive: prepare: %v", err)
		_ = tx.Rollback()
		return
	}
	n := 0
	for _, s := range batch {
		ts := s.Received
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.Exec(
			ts.UTC().Unix(),
			s.UTC,
			s.Call,
			s.Spotter,
			s.FreqKHz,
			s.Grid,
			s.SpotterGrid,
			s.Position.Lat,
			s.Position.Lon,
			s.Comment,
			s.Country,
			string(s.Source),
		); err != nil {
			log.Printf("archive: insert failed: %v", err)
			continue
		}
		n++
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Printf("archive: commit: %v", err)
		return
	}
	w.written.Add(uint64(n))
}

func (w *Writer) cleanupLoop() {
	defer w.wg.Done()
	interval := time.Duration(w.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.cleanupOnce(time.Now())
		}
	}
}

func (w *Writer) cleanupOnce(now time.Time) int64 {
	if w.cfg.RetentionDays <= 0 {
		return 0
	}
	cutoff := now.UTC().Add(-time.Duration(w.cfg.RetentionDays) * 24 * time.Hour).Unix()
	res, err := w.db.Exec(`delete from spots where ts < ?`, cutoff)
	if err != nil {
		log.Printf("archive: cleanup: %v", err)
		return 0
	}
	n, _ := res.RowsAffected()
	return n
}

func ensureSchema(db *sql.DB) error {
	schema := `
	create table if not exists spots (
		id integer primary key autoincrement,
		ts integer,
		utc integer,
		dx text,
		de text,
		freq real,
		dx_grid text,
		de_grid text,
		lat real,
		lon real,
		comment text,
		country text,
		source text
	);
	create index if not exists idx_spots_ts on spots(ts);
	create index if not exists idx_spots_dx_ts on spots(dx, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("archive: schema: %w", err)
	}
	return nil
}

// Purpose: Read back the newest archived spots.
// Key aspects: Newest first; position and prefix are rebuilt from stored columns.
// Upstream: main restoreSpots, tests.
// Downstream: database/sql.
// Recent returns the most recent spots, newest first.
func (w *Writer) Recent(limit int) ([]spot.Spot, error) {
	if w == nil || w.db == nil {
		return nil, fmt.Errorf("archive: writer is nil")
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := w.db.Query(`select ts, utc, dx, de, freq, dx_grid, de_grid, lat, lon, comment, country, source from spots order by ts desc, id desc limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query recent: %w", err)
	}
	defer rows.Close()

	out := make([]spot.Spot, 0, limit)
	for rows.Next() {
		var (
			ts     int64
			s      spot.Spot
			source string
			lat    float64
			lon    float64
		)
		if err := rows.Scan(&ts, &s.UTC, &s.Call, &s.Spotter, &s.FreqKHz, &s.Grid, &s.SpotterGrid, &lat, &lon, &s.Comment, &s.Country, &source); err != nil {
			return nil, fmt.Errorf("archive: scan recent: %w", err)
		}
		s.Received = time.Unix(ts, 0).UTC()
		s.Position = geo.LatLong{Lat: lat, Lon: lon}
		s.Source = spot.Source(source)
		s.Prefix = spot.CallPrefix(s.Call)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate recent: %w", err)
	}
	return out, nil
}

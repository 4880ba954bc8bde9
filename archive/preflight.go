package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// preflight runs a bounded WAL checkpoint and quick_check on an existing
// database. A database that fails either is renamed aside (with its sidecars)
// so startup continues with a fresh file. It returns the quarantine path, or
// "" when the database was healthy or absent.
func preflight(path string, timeout time.Duration) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("archive: preflight open: %w", err)
	}
	db.SetMaxOpenConns(1)
	checkErr := checkpointAndVerify(ctx, db)
	_ = db.Close()
	if checkErr == nil {
		return "", nil
	}

	ts := time.Now().UTC().Format("20060102T150405Z")
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Rename(p, p+".bad-"+ts); err != nil {
			return "", fmt.Errorf("archive: quarantine %s: %w (check: %v)", p, err, checkErr)
		}
	}
	dest := path + ".bad-" + ts
	log.Printf("archive: preflight failed (%v); quarantined to %s", checkErr, dest)
	return dest, nil
}

func checkpointAndVerify(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

package cty

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"dxfeed/spot"
)

// FetchStatus says whether a fetch replaced the local file.
type FetchStatus string

const (
	FetchUpdated     FetchStatus = "updated"
	FetchNotModified FetchStatus = "not_modified"
	FetchSameContent FetchStatus = "same_content"
)

// metaSuffix names the sidecar holding the validators of the last fetch.
const metaSuffix = ".status.json"

type fetchMeta struct {
	URL          string    `json:"url,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
	CheckedAt    time.Time `json:"checked_at,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at,omitempty"`
}

// Fetch downloads url to dest with a conditional GET. The previous ETag and
// Last-Modified are kept in a JSON sidecar next to dest; the file is replaced
// atomically and only when its content changed.
func Fetch(ctx context.Context, url, dest string, timeout time.Duration) (FetchStatus, error) {
	url = strings.TrimSpace(url)
	dest = strings.TrimSpace(dest)
	if url == "" {
		return "", errors.New("cty: fetch URL is empty")
	}
	if dest == "" {
		return "", errors.New("cty: fetch destination is empty")
	}
	metaPath := dest + metaSuffix
	_, statErr := os.Stat(dest)
	exists := statErr == nil
	prev := readFetchMeta(metaPath)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("cty: build request: %w", err)
	}
	if exists && prev.URL == url {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}
	req.Header.Set("User-Agent", "dxfeed")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cty: fetch: %w", err)
	}
	defer resp.Body.Close()

	now := time.Now().UTC()
	meta := prev
	meta.URL = url
	meta.CheckedAt = now
	if etag := strings.TrimSpace(resp.Header.Get("ETag")); etag != "" {
		meta.ETag = etag
	}
	if lm := strings.TrimSpace(resp.Header.Get("Last-Modified")); lm != "" {
		meta.LastModified = lm
	}

	if resp.StatusCode == http.StatusNotModified {
		writeFetchMeta(metaPath, meta)
		return FetchNotModified, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("cty: fetch: status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("cty: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "cty-*.tmp")
	if err != nil {
		return "", fmt.Errorf("cty: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("cty: read body: %w", err)
	}
	if n == 0 {
		return "", errors.New("cty: empty response body")
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	if exists && sum == prev.SHA256 {
		writeFetchMeta(metaPath, meta)
		return FetchSameContent, nil
	}
	// Reject a body that would not load rather than replace a good file with it.
	if _, err := Load(tmpName, 1); err != nil {
		return "", fmt.Errorf("cty: fetched file does not parse: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("cty: replace file: %w", err)
	}
	meta.SHA256 = sum
	meta.DownloadedAt = now
	writeFetchMeta(metaPath, meta)
	return FetchUpdated, nil
}

// Stale reports whether dest is missing or older than maxAge.
func Stale(dest string, maxAge time.Duration, now time.Time) bool {
	info, err := os.Stat(dest)
	if err != nil {
		return true
	}
	return maxAge > 0 && now.Sub(info.ModTime()) > maxAge
}

func readFetchMeta(path string) fetchMeta {
	var meta fetchMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fetchMeta{}
	}
	return meta
}

func writeFetchMeta(path string, meta fetchMeta) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		log.Printf("CTY: unable to write %s: %v", path, err)
	}
}

// Live holds the active database so a refresh can swap it while the engine
// keeps a single Enricher.
type Live struct {
	db atomic.Pointer[DB]
}

func NewLive(db *DB) *Live {
	l := &Live{}
	l.db.Store(db)
	return l
}

func (l *Live) Store(db *DB) { l.db.Store(db) }

func (l *Live) Current() *DB { return l.db.Load() }

// Enrich delegates to the current database; with none loaded it does nothing.
func (l *Live) Enrich(s *spot.Spot) {
	if db := l.db.Load(); db != nil {
		db.Enrich(s)
	}
}

// Package geocache remembers where callsigns were last resolved so a cluster
// heading query is only issued for stations not seen recently. Records live in
// a Pebble database with a small in-memory LRU in front.
package geocache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	lru "github.com/hashicorp/golang-lru/v2"

	"dxfeed/geo"
	"dxfeed/spot"
)

const (
	recordVersion = 1
	recordSize    = 1 + 8 + 8 + 8
	callPrefix    = "c|"
)

var (
	errInvalidRecord = errors.New("geocache: invalid record encoding")
	errClosed        = errors.New("geocache: cache is closed")
)

const (
	DefaultTTL            = 30 * 24 * time.Hour
	DefaultMemoryEntries  = 512
	defaultCacheSizeBytes = int64(8 << 20)
	defaultBloomBits      = 10
)

type Options struct {
	// TTL bounds how long a record is trusted. Zero keeps records forever.
	TTL            time.Duration
	MemoryEntries  int
	CacheSizeBytes int64
}

// Entry is one cached resolution.
type Entry struct {
	Call      string
	Position  geo.LatLong
	UpdatedAt time.Time
}

// Stats reports lookup outcomes since Open.
type Stats struct {
	Hits       uint64
	MemoryHits uint64
	Misses     uint64
	Writes     uint64
}

// Cache is safe for concurrent use. Close waits for in-flight operations.
type Cache struct {
	// mu guards db and pcache against Close.
	mu     sync.RWMutex
	db     *pebble.DB
	pcache *pebble.Cache
	mem    *lru.Cache[string, Entry]
	ttl    time.Duration
	now    func() time.Time

	hits    atomic.Uint64
	memHits atomic.Uint64
	misses  atomic.Uint64
	writes  atomic.Uint64
}

// Purpose: Open the persistent callsign position cache.
// Key aspects: Pebble holds the records; an LRU fronts reads.
// Upstream: main startup when geocache.enabled.
// Downstream: pebble.Open, lru.New.
// Open opens or creates the cache database under path.
func Open(path string, opts Options) (*Cache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("geocache: database path is empty")
	}
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = DefaultMemoryEntries
	}
	if opts.CacheSizeBytes <= 0 {
		opts.CacheSizeBytes = defaultCacheSizeBytes
	}
	if opts.TTL < 0 {
		opts.TTL = DefaultTTL
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("geocache: ensure directory: %w", err)
	}

	pebbleOpts := &pebble.Options{Cache: pebble.NewCache(opts.CacheSizeBytes)}
	level := pebble.LevelOptions{
		FilterPolicy: bloom.FilterPolicy(defaultBloomBits),
		FilterType:   pebble.TableFilter,
	}
	pebbleOpts.Levels = make([]pebble.LevelOptions, 7)
	for i := range pebbleOpts.Levels {
		pebbleOpts.Levels[i] = level
	}
	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		pebbleOpts.Cache.Unref()
		return nil, fmt.Errorf("geocache: open: %w", err)
	}
	mem, err := lru.New[string, Entry](opts.MemoryEntries)
	if err != nil {
		_ = db.Close()
		pebbleOpts.Cache.Unref()
		return nil, fmt.Errorf("geocache: memory cache: %w", err)
	}
	return &Cache{
		db:     db,
		pcache: pebbleOpts.Cache,
		mem:    mem,
		ttl:    opts.TTL,
		now:    time.Now,
	}, nil
}

// Close flushes and releases the database.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if c.pcache != nil {
		c.pcache.Unref()
		c.pcache = nil
	}
	return err
}

func (c *Cache) expired(e Entry) bool {
	return c.ttl > 0 && c.now().Sub(e.UpdatedAt) > c.ttl
}

// Get returns the cached position for call if present and fresh.
func (c *Cache) Get(call string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return Entry{}, false
	}
	call = spot.NormalizeCallsign(call)
	if e, ok := c.mem.Get(call); ok {
		if !c.expired(e) {
			c.hits.Add(1)
			c.memHits.Add(1)
			return e, true
		}
		c.mem.Remove(call)
	}
	raw, closer, err := c.db.Get(callKey(call))
	if err != nil {
		c.misses.Add(1)
		return Entry{}, false
	}
	e, err := decodeRecord(call, raw)
	_ = closer.Close()
	if err != nil || c.expired(e) {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.mem.Add(call, e)
	c.hits.Add(1)
	return e, true
}

// Put records a resolution for call.
func (c *Cache) Put(call string, pos geo.LatLong) error {
	if c == nil {
		return errClosed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return errClosed
	}
	call = spot.NormalizeCallsign(call)
	if call == "" {
		return errors.New("geocache: empty callsign")
	}
	e := Entry{Call: call, Position: pos, UpdatedAt: c.now().UTC()}
	if err := c.db.Set(callKey(call), encodeRecord(e), pebble.NoSync); err != nil {
		return fmt.Errorf("geocache: put %s: %w", call, err)
	}
	c.mem.Add(call, e)
	c.writes.Add(1)
	return nil
}

// Purpose: Drop entries older than the TTL.
// Key aspects: Scans the call keyspace and deletes in one batch.
// Upstream: main purgeGeocache.
// Downstream: pebble iterator, Batch.Delete.
// PurgeExpired deletes records older than the TTL and returns how many went.
func (c *Cache) PurgeExpired() (int, error) {
	if c == nil {
		return 0, errClosed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return 0, errClosed
	}
	if c.ttl <= 0 {
		return 0, nil
	}
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(callPrefix),
		UpperBound: prefixUpperBound([]byte(callPrefix)),
	})
	if err != nil {
		return 0, fmt.Errorf("geocache: purge iterator: %w", err)
	}
	batch := c.db.NewBatch()
	removed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		call := strings.TrimPrefix(string(iter.Key()), callPrefix)
		e, err := decodeRecord(call, iter.Value())
		if err == nil && !c.expired(e) {
			continue
		}
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			_ = iter.Close()
			_ = batch.Close()
			return removed, fmt.Errorf("geocache: purge delete: %w", err)
		}
		c.mem.Remove(call)
		removed++
	}
	if err := iter.Close(); err != nil {
		_ = batch.Close()
		return 0, fmt.Errorf("geocache: purge iterate: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("geocache: purge commit: %w", err)
	}
	return removed, nil
}

func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:       c.hits.Load(),
		MemoryHits: c.memHits.Load(),
		Misses:     c.misses.Load(),
		Writes:     c.writes.Load(),
	}
}

func callKey(call string) []byte {
	return []byte(callPrefix + call)
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// record layout: version u8, lat f64, lon f64, updated unix seconds i64.
func encodeRecord(e Entry) []byte {
	b := make([]byte, recordSize)
	b[0] = recordVersion
	binary.BigEndian.PutUint64(b[1:9], math.Float64bits(e.Position.Lat))
	binary.BigEndian.PutUint64(b[9:17], math.Float64bits(e.Position.Lon))
	binary.BigEndian.PutUint64(b[17:25], uint64(e.UpdatedAt.Unix()))
	return b
}

func decodeRecord(call string, b []byte) (Entry, error) {
	if len(b) != recordSize || b[0] != recordVersion {
		return Entry{}, errInvalidRecord
	}
	return Entry{
		Call: call,
		Position: geo.LatLong{
			Lat: math.Float64frombits(binary.BigEndian.Uint64(b[1:9])),
			Lon: math.Float64frombits(binary.BigEndian.Uint64(b[9:17])),
		},
		UpdatedAt: time.Unix(int64(binary.BigEndian.Uint64(b[17:25])), 0).UTC(),
	}, nil
}

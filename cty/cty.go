// Package cty loads the CTY prefix database (cty.plist) and answers
// longest-prefix lookups so spots can carry a country name and the DXCC
// prefix used for compact map labels.
package cty

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"howett.net/plist"

	"dxfeed/spot"
)

// Entry is one record of the plist.
type Entry struct {
	Country       string  `plist:"Country"`
	Prefix        string  `plist:"Prefix"`
	ADIF          int     `plist:"ADIF"`
	CQZone        int     `plist:"CQZone"`
	ITUZone       int     `plist:"ITUZone"`
	Continent     string  `plist:"Continent"`
	Latitude      float64 `plist:"Latitude"`
	Longitude     float64 `plist:"Longitude"`
	ExactCallsign bool    `plist:"ExactCallsign"`
}

type result struct {
	entry Entry
	ok    bool
}

// DB answers lookups against a loaded plist. Results, misses included, are
// memoized in a bounded LRU keyed by the normalized call.
type DB struct {
	entries map[string]Entry
	trie    trie
	cache   *lru.Cache[string, result]

	lookups atomic.Uint64
	hits    atomic.Uint64
}

// Stats summarizes lookup behaviour.
type Stats struct {
	Entries   int
	Lookups   uint64
	CacheHits uint64
}

const DefaultCacheEntries = 1024

// Load opens and decodes a cty.plist file.
func Load(path string, cacheEntries int) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cty: open plist: %w", err)
	}
	defer f.Close()
	return Decode(f, cacheEntries)
}

// Decode reads plist data from r.
func Decode(r io.ReadSeeker, cacheEntries int) (*DB, error) {
	var raw map[string]Entry
	if err := plist.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("cty: decode plist: %w", err)
	}
	if cacheEntries <= 0 {
		cacheEntries = DefaultCacheEntries
	}
	cache, err := lru.New[string, result](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("cty: cache: %w", err)
	}
	db := &DB{entries: make(map[string]Entry, len(raw)), cache: cache}
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		db.entries[key] = v
		if !v.ExactCallsign {
			db.trie.insert(key)
		}
	}
	return db, nil
}

// Lookup resolves call by exact match, then by portable-aware longest prefix:
// for slash calls the shortest segment that resolves wins (W6/K1ABC and
// K1ABC/W6 both resolve as W6), falling back to the whole call.
func (db *DB) Lookup(call string) (Entry, bool) {
	if db == nil {
		return Entry{}, false
	}
	call = spot.NormalizeCallsign(call)
	db.lookups.Add(1)
	if r, ok := db.cache.Get(call); ok {
		db.hits.Add(1)
		return r.entry, r.ok
	}
	e, ok := db.resolve(call)
	db.cache.Add(call, result{entry: e, ok: ok})
	return e, ok
}

var portableSuffixes = map[string]bool{"P": true, "M": true, "MM": true, "AM": true, "QRP": true, "B": true}

func (db *DB) resolve(call string) (Entry, bool) {
	if e, ok := db.entries[call]; ok {
		return e, true
	}
	if strings.Contains(call, "/") {
		var best string
		for _, seg := range strings.Split(call, "/") {
			if seg == "" || portableSuffixes[seg] {
				continue
			}
			if best == "" || len(seg) < len(best) {
				if _, ok := db.prefix(seg); ok {
					best = seg
				}
			}
		}
		if best != "" {
			return db.prefix(best)
		}
	}
	return db.prefix(call)
}

func (db *DB) prefix(call string) (Entry, bool) {
	if e, ok := db.entries[call]; ok {
		return e, true
	}
	key, ok := db.trie.longest(call)
	if !ok {
		return Entry{}, false
	}
	return db.entries[key], true
}

// Enrich fills the spot's country and prefix when the call resolves. The
// heuristic prefix set at construction is kept otherwise.
func (db *DB) Enrich(s *spot.Spot) {
	if db == nil || s == nil {
		return
	}
	e, ok := db.Lookup(s.Call)
	if !ok {
		return
	}
	s.Country = e.Country
	if p := strings.TrimSuffix(e.Prefix, "/"); p != "" && !e.ExactCallsign {
		s.Prefix = p
	}
}

func (db *DB) Stats() Stats {
	if db == nil {
		return Stats{}
	}
	return Stats{Entries: len(db.entries), Lookups: db.lookups.Load(), CacheHits: db.hits.Load()}
}

// trie is a byte-wise prefix tree over the non-exact CTY keys. Nodes live in a slice so
// children are small indices.
type trie struct {
	nodes []trieNode
}

type trieNode struct {
	next     map[byte]int
	terminal string
}

func (t *trie) insert(key string) {
	if len(t.nodes) == 0 {
		t.nodes = append(t.nodes, trieNode{})
	}
	n := 0
	for i := 0; i < len(key); i++ {
		if t.nodes[n].next == nil {
			t.nodes[n].next = make(map[byte]int)
		}
		child, ok := t.nodes[n].next[key[i]]
		if !ok {
			child = len(t.nodes)
			t.nodes = append(t.nodes, trieNode{})
			t.nodes[n].next[key[i]] = child
		}
		n = child
	}
	t.nodes[n].terminal = key
}

// longest returns the longest key that prefixes s.
func (t *trie) longest(s string) (string, bool) {
	if len(t.nodes) == 0 {
		return "", false
	}
	n, best := 0, ""
	for i := 0; i < len(s); i++ {
		child, ok := t.nodes[n].next[s[i]]
		if !ok {
			break
		}
		n = child
		if t.nodes[n].terminal != "" {
			best = t.nodes[n].terminal
		}
	}
	return best, best != ""
}

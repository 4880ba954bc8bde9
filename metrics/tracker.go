package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker counts engine events. A nil *Tracker ignores every call, and the
// Prometheus collector is optional.
type Tracker struct {
	// keyed counters live in sync.Map + atomic.Uint64 so the summary reader
	// never blocks the poll loop
	sourceCounts  sync.Map // source -> *atomic.Uint64
	failureCounts sync.Map // failure kind -> *atomic.Uint64
	dialectCounts sync.Map // dialect -> *atomic.Uint64

	lines            atomic.Uint64
	repeats          atomic.Uint64
	geocodeFailures  atomic.Uint64
	geocodeCacheHits atomic.Uint64
	datagramsIgnored atomic.Uint64
	held             atomic.Int64
	lastSpot         atomic.Int64
	start            atomic.Int64

	prom *Collector
}

// NewTracker creates a tracker; prom may be nil.
func NewTracker(prom *Collector) *Tracker {
	t := &Tracker{prom: prom}
	t.start.Store(time.Now().UnixNano())
	return t
}

func (t *Tracker) LineRead() {
	if t == nil {
		return
	}
	t.lines.Add(1)
	if t.prom != nil {
		t.prom.Lines.Inc()
	}
}

// SpotAccepted counts a spot that reached the list.
func (t *Tracker) SpotAccepted(source string) {
	if t == nil {
		return
	}
	incrementCounter(&t.sourceCounts, source)
	t.lastSpot.Store(time.Now().UnixNano())
	if t.prom != nil {
		t.prom.Spots.WithLabelValues(source).Inc()
	}
}

func (t *Tracker) Repeat() {
	if t == nil {
		return
	}
	t.repeats.Add(1)
	if t.prom != nil {
		t.prom.Repeats.Inc()
	}
}

func (t *Tracker) GeocodeFailed() {
	if t == nil {
		return
	}
	t.geocodeFailures.Add(1)
	if t.prom != nil {
		t.prom.GeocodeFailures.Inc()
	}
}

func (t *Tracker) GeocodeCacheHit() {
	if t == nil {
		return
	}
	t.geocodeCacheHits.Add(1)
	if t.prom != nil {
		t.prom.GeocodeCacheHits.Inc()
	}
}

func (t *Tracker) DatagramsIgnored(n int) {
	if t == nil || n <= 0 {
		return
	}
	t.datagramsIgnored.Add(uint64(n))
	if t.prom != nil {
		t.prom.DatagramsIgnored.Add(float64(n))
	}
}

func (t *Tracker) SessionOpened(dialect string) {
	if t == nil {
		return
	}
	incrementCounter(&t.dialectCounts, dialect)
	if t.prom != nil {
		t.prom.Sessions.WithLabelValues(dialect).Inc()
	}
}

// SessionFailed counts an open failure or a lost connection under kind.
func (t *Tracker) SessionFailed(kind string) {
	if t == nil {
		return
	}
	incrementCounter(&t.failureCounts, kind)
	if t.prom != nil {
		t.prom.SessionFailures.WithLabelValues(kind).Inc()
	}
}

// SetHeld records how many spots the list holds.
func (t *Tracker) SetHeld(n int) {
	if t == nil {
		return
	}
	t.held.Store(int64(n))
	if t.prom != nil {
		t.prom.HeldSpots.Set(float64(n))
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Lines            uint64
	Repeats          uint64
	GeocodeFailures  uint64
	GeocodeCacheHits uint64
	DatagramsIgnored uint64
	Held             int
	BySource         map[string]uint64
	Failures         map[string]uint64
	Sessions         map[string]uint64
	LastSpot         time.Time
	Uptime           time.Duration
}

// Accepted sums spots across sources.
func (s Snapshot) Accepted() uint64 {
	var total uint64
	for _, n := range s.BySource {
		total += n
	}
	return total
}

func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Lines:            t.lines.Load(),
		Repeats:          t.repeats.Load(),
		GeocodeFailures:  t.geocodeFailures.Load(),
		GeocodeCacheHits: t.geocodeCacheHits.Load(),
		DatagramsIgnored: t.datagramsIgnored.Load(),
		Held:             int(t.held.Load()),
		BySource:         copyCounts(&t.sourceCounts),
		Failures:         copyCounts(&t.failureCounts),
		Sessions:         copyCounts(&t.dialectCounts),
		Uptime:           time.Since(time.Unix(0, t.start.Load())),
	}
	if last := t.lastSpot.Load(); last != 0 {
		snap.LastSpot = time.Unix(0, last)
	}
	return snap
}

// SummaryLine renders the snapshot for the periodic log line.
func (t *Tracker) SummaryLine() string {
	return FormatSummary(t.Snapshot())
}

// FormatSummary is split out so tests can pin the clock-independent parts.
func FormatSummary(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stats: %s spots (%s), %s lines, %s repeats, %s geocode failures, %s cache hits, %s ignored datagrams, %d held",
		humanize.Comma(int64(s.Accepted())),
		formatCounts(s.BySource),
		humanize.Comma(int64(s.Lines)),
		humanize.Comma(int64(s.Repeats)),
		humanize.Comma(int64(s.GeocodeFailures)),
		humanize.Comma(int64(s.GeocodeCacheHits)),
		humanize.Comma(int64(s.DatagramsIgnored)),
		s.Held)
	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, ", failures %s", formatCounts(s.Failures))
	}
	if s.LastSpot.IsZero() {
		b.WriteString(", no spots yet")
	} else {
		fmt.Fprintf(&b, ", last spot %s", humanize.Time(s.LastSpot))
	}
	return b.String()
}

func formatCounts(counts map[string]uint64) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, humanize.Comma(int64(counts[k]))))
	}
	return strings.Join(parts, " ")
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}

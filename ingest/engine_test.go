package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dxfeed/cluster"
	"dxfeed/geo"
	"dxfeed/geocache"
	"dxfeed/metrics"
	"dxfeed/spot"
	"dxfeed/transport/transporttest"
	"dxfeed/wsjtx"
)

var denver = geo.LatLong{Lat: 39.74, Lon: -104.99}

type settings struct {
	host    string
	port    int
	enabled bool
}

func (s *settings) OperatorCallsign() string       { return "N0CALL" }
func (s *settings) ReferencePosition() geo.LatLong { return denver }
func (s *settings) ClusterHost() string            { return s.host }
func (s *settings) ClusterPort() int               { return s.port }
func (s *settings) ClusterEnabled() bool           { return s.enabled }

type renderer struct {
	placed  []string
	removed int
	errors  []string
}

func (r *renderer) PlaceLabel(label string, _ geo.LatLong) spot.Anchor {
	r.placed = append(r.placed, label)
	return nil
}
func (r *renderer) RemoveLabel(spot.Anchor)   { r.removed++ }
func (r *renderer) RedrawRow(int, *spot.Spot) {}
func (r *renderer) ShowError(msg string)      { r.errors = append(r.errors, msg) }

type sink struct{ got []spot.Spot }

func (s *sink) Enqueue(sp *spot.Spot) { s.got = append(s.got, *sp) }

type memCache map[string]geo.LatLong

func (m memCache) Get(call string) (geocache.Entry, bool) {
	p, ok := m[call]
	return geocache.Entry{Call: call, Position: p}, ok
}

func (m memCache) Put(call string, pos geo.LatLong) error {
	m[call] = pos
	return nil
}

type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2026, 10, 17, 21, 56, 30, 0, time.UTC)} }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	dialer   *transporttest.Dialer
	settings *settings
	render   *renderer
	sink     *sink
	clock    *clock
	metrics  *metrics.Tracker
	engine   *Engine
}

func newHarness(t *testing.T, host string, port int, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer:   transporttest.NewDialer(),
		settings: &settings{host: host, port: port, enabled: true},
		render:   &renderer{},
		sink:     &sink{},
		clock:    newClock(),
		metrics:  metrics.NewTracker(nil),
	}
	opts := Options{
		Dialer:   h.dialer,
		Settings: h.settings,
		Renderer: h.render,
		Sinks:    []Sink{h.sink},
		Metrics:  h.metrics,
		Now:      h.clock.now,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.engine = New(opts)
	return h
}

const spiderPrompt = "N0CALL de GB7DJK 17-Oct-2026 2156Z dxspider >"

func spiderStream() *transporttest.Stream {
	s := transporttest.NewStream("Hello N0CALL, this is GB7DJK", "running DXSpider V1.57", spiderPrompt)
	s.Reply("set/qra DM79", "QRA locator now DM79", spiderPrompt)
	s.Reply("set/location 39 44 N 104 59 W", "Your lat/long is now 39 44 N 104 59 W", spiderPrompt)
	return s
}

const jr1fysLine = "DX de KD0AA:     18100.0  JR1FYS       FT8 LOUD in FL!                2156Z EL98"

func TestClusterSpotIsGeocodedAndAccepted(t *testing.T) {
	h := newHarness(t, "dxc.example.net", 7300, nil)
	st := spiderStream()
	st.Reply("show/heading JR1FYS", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi", spiderPrompt)
	h.dialer.AddStream("dxc.example.net", st)

	require.NoError(t, h.engine.Poll())
	require.True(t, h.engine.Connected())
	assert.Equal(t, cluster.DxSpider, h.engine.Dialect())

	st.Push(jr1fysLine)
	require.NoError(t, h.engine.Poll())

	spots := h.engine.Spots()
	require.Len(t, spots, 1)
	s := spots[0]
	want := geo.Destination(denver, 23, 6258)
	assert.Equal(t, "JR1FYS", s.Call)
	assert.Equal(t, 18100.0, s.FreqKHz)
	assert.Equal(t, 2156, s.UTC)
	assert.Equal(t, "KD0AA", s.Spotter)
	assert.Equal(t, "EL98", s.SpotterGrid)
	assert.InDelta(t, want.Lat, s.Position.Lat, 1e-9)
	assert.InDelta(t, want.Lon, s.Position.Lon, 1e-9)
	assert.Equal(t, geo.LatLongToGrid(want), s.Grid)
	assert.Equal(t, spot.SourceCluster, s.Source)

	assert.Equal(t, []string{"JR1FYS"}, h.render.placed)
	require.Len(t, h.sink.got, 1)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().BySource["CLUSTER"])
}

func TestRepeatSkipsHeadingQuery(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	st := spiderStream()
	st.Reply("show/heading JR1FYS", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi")
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	st.Push(jr1fysLine, "DX de W3LPL:     18100.05 JR1FYS       FT8                            2157Z")
	require.NoError(t, h.engine.Poll())

	assert.Len(t, h.engine.Spots(), 1)
	queries := 0
	for _, w := range st.Written() {
		if w == "show/heading JR1FYS" {
			queries++
		}
	}
	assert.Equal(t, 1, queries)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().Repeats)
}

func TestGeocodeFailureDropsSpotAndKeepsSkippedLines(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	st := spiderStream()
	st.Reply("show/heading JR1FYS",
		"DX de W1AW:      14025.0  K1ABC        CW                             2156Z",
		"Sorry, no such call")
	st.Reply("show/heading K1ABC", "K1ABC United-States-K: 70 degs - dist: 1700 mi")
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	st.Push(jr1fysLine)
	require.NoError(t, h.engine.Poll())

	spots := h.engine.Spots()
	require.Len(t, spots, 1)
	assert.Equal(t, "K1ABC", spots[0].Call)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().GeocodeFailures)
	assert.True(t, h.engine.Connected())
	assert.Empty(t, h.render.errors)
}

func TestGeocacheAvoidsQuery(t *testing.T) {
	cache := memCache{"JR1FYS": {Lat: 35.7, Lon: 139.7}}
	h := newHarness(t, "dxc", 23, func(o *Options) { o.Geocache = cache })
	st := spiderStream()
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	st.Push(jr1fysLine)
	require.NoError(t, h.engine.Poll())

	spots := h.engine.Spots()
	require.Len(t, spots, 1)
	assert.Equal(t, "PM95", spots[0].Grid)
	assert.NotContains(t, st.Written(), "show/heading JR1FYS")
	assert.Equal(t, uint64(1), h.metrics.Snapshot().GeocodeCacheHits)
}

func TestHeadingResultIsCached(t *testing.T) {
	cache := memCache{}
	h := newHarness(t, "dxc", 23, func(o *Options) { o.Geocache = cache })
	st := spiderStream()
	st.Reply("show/heading UT7LW", "UT7LW Ukraine-UR: 23 degs - dist: 6258 mi")
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	st.Push("DX de KD0AA:     14074.0  UT7LW        FT8                            2156Z")
	require.NoError(t, h.engine.Poll())

	pos, ok := cache["UT7LW"]
	require.True(t, ok)
	want := geo.Destination(denver, 23, 6258)
	assert.InDelta(t, want.Lat, pos.Lat, 1e-9)
	assert.InDelta(t, want.Lon, pos.Lon, 1e-9)
}

func TestSpotsSeenDuringHandshakeAreRouted(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	st := transporttest.NewStream("DXSpider", spiderPrompt)
	st.Reply("set/qra DM79", jr1fysLine, spiderPrompt)
	st.Reply("set/location 39 44 N 104 59 W", spiderPrompt)
	st.Reply("show/heading JR1FYS", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi")
	h.dialer.AddStream("dxc", st)

	require.NoError(t, h.engine.Poll())
	assert.Len(t, h.engine.Spots(), 1)
}

func TestKeepaliveAfterIdle(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	st := spiderStream()
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	h.clock.advance(299 * time.Second)
	require.NoError(t, h.engine.Poll())
	assert.NotContains(t, st.Written(), "show/date")

	h.clock.advance(2 * time.Second)
	require.NoError(t, h.engine.Poll())
	assert.Contains(t, st.Written(), "show/date")
}

func TestKeepaliveWriteFailureLosesConnection(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	st := spiderStream()
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	st.FailWrites(errors.New("broken pipe"))
	h.clock.advance(301 * time.Second)
	err := h.engine.Poll()
	require.ErrorIs(t, err, cluster.ErrLostConnection)
	assert.ErrorContains(t, err, "broken pipe")
	assert.True(t, st.Closed())
	assert.False(t, h.engine.Connected())
	assert.Equal(t, []string{"Lost connection"}, h.render.errors)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().Failures["lost"])
}

func TestReadErrorTearsDownAndReconnects(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	first := spiderStream()
	first.Reply("show/heading JR1FYS", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi")
	h.dialer.AddStream("dxc", first)
	require.NoError(t, h.engine.Poll())
	first.Push(jr1fysLine)
	require.NoError(t, h.engine.Poll())
	first.Fail(errors.New("connection reset by peer"))

	err := h.engine.Poll()
	require.ErrorIs(t, err, cluster.ErrLostConnection)
	assert.True(t, first.Closed())
	assert.False(t, h.engine.Connected())
	assert.Equal(t, []string{"Lost connection"}, h.render.errors)
	assert.Len(t, h.engine.Spots(), 1, "spot list survives a short gap")

	second := spiderStream()
	h.dialer.AddStream("dxc", second)
	h.clock.advance(30 * time.Second)
	require.NoError(t, h.engine.Poll())
	assert.True(t, h.engine.Connected())
	assert.Len(t, h.engine.Spots(), 1)
	assert.Equal(t, []string{"Lost connection", ""}, h.render.errors)
}

func TestStaleSpotsClearedAfterLongGap(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	st := spiderStream()
	st.Reply("show/heading JR1FYS", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi")
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())
	st.Push(jr1fysLine)
	require.NoError(t, h.engine.Poll())
	require.Len(t, h.engine.Spots(), 1)

	h.engine.Close("test")
	h.clock.advance(121 * time.Second)
	err := h.engine.Poll()
	require.ErrorIs(t, err, cluster.ErrConnectFailed)
	assert.Empty(t, h.engine.Spots())
	assert.Equal(t, []string{"Connect failed"}, h.render.errors)
}

func TestUnknownDialectIsReported(t *testing.T) {
	h := newHarness(t, "cc", 23, nil)
	st := transporttest.NewStream("Welcome to CC Cluster", "N0CALL de W1XYZ >")
	h.dialer.AddStream("cc", st)

	err := h.engine.Poll()
	require.ErrorIs(t, err, cluster.ErrUnknownDialect)
	assert.True(t, st.Closed())
	assert.False(t, h.engine.Connected())
	assert.Equal(t, []string{"Unknown cluster type"}, h.render.errors)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().Failures["unknown_dialect"])
}

func TestDisabledTearsDownAndSucceeds(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	st := spiderStream()
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	h.settings.enabled = false
	require.NoError(t, h.engine.Poll())
	assert.True(t, st.Closed())
	assert.False(t, h.engine.Connected())
	require.NoError(t, h.engine.Poll())
	assert.Len(t, h.dialer.Dials(), 1)
}

func TestHostChangeForcesReconnect(t *testing.T) {
	h := newHarness(t, "old", 23, nil)
	old := spiderStream()
	h.dialer.AddStream("old", old)
	h.dialer.AddStream("new", spiderStream())
	require.NoError(t, h.engine.Poll())

	h.settings.host = "new"
	require.NoError(t, h.engine.Poll())
	assert.True(t, old.Closed())
	assert.Equal(t, []string{"old:23", "new:23"}, h.dialer.Dials())
	assert.Equal(t, "new", h.engine.Stats().Host)
}

func statusDatagram(call, grid string, hz uint64) []byte {
	return wsjtx.EncodeStatus(wsjtx.Status{
		ID:         "WSJT-X",
		DialFreqHz: hz,
		Mode:       "FT8",
		DXCall:     call,
		DECall:     "N0CALL",
		DEGrid:     "DM79",
		DXGrid:     grid,
	})
}

func TestWSJTXLatestStatusWins(t *testing.T) {
	h := newHarness(t, "WSJT-X", 2237, nil)
	l := transporttest.NewListener()
	h.dialer.AddListener(2237, l)
	require.NoError(t, h.engine.Poll())
	assert.Equal(t, cluster.Wsjtx, h.engine.Dialect())

	first := statusDatagram("K1ABC", "FN42", 14074000)
	l.Push(first[:len(first)-3], statusDatagram("JA1XYZ", "PM95", 14074000))
	require.NoError(t, h.engine.Poll())

	spots := h.engine.Spots()
	require.Len(t, spots, 1)
	s := spots[0]
	assert.Equal(t, "JA1XYZ", s.Call)
	assert.Equal(t, 14074.0, s.FreqKHz)
	assert.Equal(t, "PM95", s.Grid)
	assert.Equal(t, 2156, s.UTC)
	assert.Equal(t, spot.SourceWSJTX, s.Source)
	assert.Equal(t, uint64(1), h.metrics.Snapshot().DatagramsIgnored)
}

func TestWSJTXDiscardsUnusableStatus(t *testing.T) {
	h := newHarness(t, "jtdx", 2237, nil)
	l := transporttest.NewListener()
	h.dialer.AddListener(2237, l)
	require.NoError(t, h.engine.Poll())

	l.Push(statusDatagram("JA1XYZ", "PM95", 0))
	require.NoError(t, h.engine.Poll())
	l.Push(statusDatagram("JA1XYZ", "", 14074000))
	require.NoError(t, h.engine.Poll())
	l.Push([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})
	require.NoError(t, h.engine.Poll())

	assert.Empty(t, h.engine.Spots())
	assert.True(t, h.engine.Connected())
}

func TestWSJTXIdenticalPayloadSkipped(t *testing.T) {
	h := newHarness(t, "WSJTX", 2237, nil)
	l := transporttest.NewListener()
	h.dialer.AddListener(2237, l)
	require.NoError(t, h.engine.Poll())

	d := statusDatagram("JA1XYZ", "PM95", 14074000)
	l.Push(d)
	require.NoError(t, h.engine.Poll())
	l.Push(d)
	require.NoError(t, h.engine.Poll())

	assert.Len(t, h.engine.Spots(), 1)
	assert.Zero(t, h.metrics.Snapshot().Repeats)
	assert.Len(t, h.sink.got, 1)
}

func TestCTYEnrichesBeforeInsert(t *testing.T) {
	h := newHarness(t, "WSJT-X", 2237, func(o *Options) {
		o.CTY = enricherFunc(func(s *spot.Spot) { s.Country = "Japan"; s.Prefix = "JA" })
		o.Store.UsePrefix = true
	})
	l := transporttest.NewListener()
	h.dialer.AddListener(2237, l)
	require.NoError(t, h.engine.Poll())
	l.Push(statusDatagram("JA1XYZ", "PM95", 14074000))
	require.NoError(t, h.engine.Poll())

	require.Len(t, h.sink.got, 1)
	assert.Equal(t, "Japan", h.sink.got[0].Country)
	assert.Equal(t, []string{"JA"}, h.render.placed)
}

type enricherFunc func(*spot.Spot)

func (f enricherFunc) Enrich(s *spot.Spot) { f(s) }

const k1abcLine = "DX de W1AW:      14025.0  K1ABC        CW                             2156Z"

func TestLateHeadingAnswerIsNotAttributedToNextCall(t *testing.T) {
	cache := memCache{}
	h := newHarness(t, "dxc", 23, func(o *Options) { o.Geocache = cache })
	st := spiderStream()
	st.Reply("show/heading K1ABC", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi")
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	st.Push(jr1fysLine)
	require.NoError(t, h.engine.Poll())
	st.Push(k1abcLine)
	require.NoError(t, h.engine.Poll())

	assert.Empty(t, h.engine.Spots())
	assert.Empty(t, cache)
	assert.Equal(t, uint64(2), h.metrics.Snapshot().GeocodeFailures)
	assert.True(t, h.engine.Connected())
}

func TestHeadingQueriesPerPollAreCapped(t *testing.T) {
	h := newHarness(t, "dxc", 23, func(o *Options) { o.MaxHeadingQueries = 2 })
	st := spiderStream()
	st.Reply("show/heading JR1FYS", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi")
	st.Reply("show/heading K1ABC", "K1ABC United-States-K: 70 degs - dist: 1700 mi")
	st.Reply("show/heading UT7LW", "UT7LW Ukraine-UR: 23 degs - dist: 6258 mi")
	h.dialer.AddStream("dxc", st)
	require.NoError(t, h.engine.Poll())

	st.Push(jr1fysLine, k1abcLine, "DX de KD0AA:     14074.0  UT7LW        FT8                            2156Z")
	require.NoError(t, h.engine.Poll())
	assert.Len(t, h.engine.Spots(), 2)
	assert.Equal(t, 1, h.engine.Stats().Backlog)
	assert.NotContains(t, st.Written(), "show/heading UT7LW")

	require.NoError(t, h.engine.Poll())
	spots := h.engine.Spots()
	require.Len(t, spots, 3)
	assert.Equal(t, "UT7LW", spots[2].Call)
	assert.Zero(t, h.engine.Stats().Backlog)
}

func TestRestoreSeedsRecentHistoryOnly(t *testing.T) {
	h := newHarness(t, "dxc", 23, nil)
	at := func(call string, age time.Duration) spot.Spot {
		s := spot.NewSpot(call, 14025, 2150, spot.SourceCluster)
		s.Position = geo.LatLong{Lat: 35.7, Lon: 139.7}
		s.Grid = geo.LatLongToGrid(s.Position)
		s.Received = h.clock.now().Add(-age)
		return *s
	}
	history := []spot.Spot{
		at("JA1XYZ", 10*time.Second),
		at("K1ABC", time.Minute),
		at("UT7LW", time.Hour),
	}

	assert.Equal(t, 2, h.engine.Restore(history))
	spots := h.engine.Spots()
	require.Len(t, spots, 2)
	assert.Equal(t, "K1ABC", spots[0].Call)
	assert.Equal(t, "JA1XYZ", spots[1].Call)
	assert.Equal(t, []string{"K1ABC", "JA1XYZ"}, h.render.placed)
	assert.Empty(t, h.sink.got)
	assert.Empty(t, h.dialer.Dials())
}

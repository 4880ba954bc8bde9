// Package spot defines the normalized spot record shared by the cluster and
// WSJT-X ingest paths, plus helpers for frequency formatting and UTC stamps.
package spot

import (
	"fmt"
	"math"
	"time"

	"dxfeed/geo"
)

// Source identifies which ingest path produced a spot.
type Source string

const (
	SourceCluster Source = "CLUSTER" // DXSpider / AR-Cluster telnet line
	SourceWSJTX   Source = "WSJTX"   // WSJT-X / JTDX Status datagram
)

// Anchor is the screen-projection handle a renderer returns for a placed label.
// The spot keeps it only so hit-tests can ask whether a point falls inside.
type Anchor interface {
	Contains(x, y int) bool
}

// Spot represents one accepted DX report.
type Spot struct {
	Call        string      // Station being spotted, normalized
	FreqKHz     float64     // Frequency in kHz
	Grid        string      // 4-character locator, always set once accepted
	UTC         int         // HHMM
	Position    geo.LatLong // Resolved position; (0,0) until resolved
	Anchor      Anchor      // Label handle owned by the renderer
	Spotter     string      // Reporting station (cluster spots only)
	SpotterGrid string      // Trailing locator some clusters append for the spotter
	Comment     string      // Free text between call and time
	Country     string      // CTY country name when known
	Prefix      string      // CTY or heuristic prefix, used for prefix labels
	Source      Source
	Received    time.Time // Wall clock when the spot was accepted
}

// Purpose: Build a spot from a parsed cluster line or WSJT-X status.
// Key aspects: Callsign is normalized and the heuristic prefix filled; position is left unset.
// Upstream: ingest routeLine/routeStatus.
// Downstream: NormalizeCallsign, CallPrefix.
// NewSpot builds an unresolved spot with a normalized callsign.
func NewSpot(call string, freqKHz float64, utc int, source Source) *Spot {
	norm := NormalizeCallsign(call)
	return &Spot{
		Call:    norm,
		FreqKHz: freqKHz,
		UTC:     utc,
		Source:  source,
		Prefix:  CallPrefix(norm),
	}
}

// Purpose: Gate spots that cannot be placed on the map.
// Key aspects: Requires both a non-zero position and a grid.
// Upstream: store.Insert.
// Downstream: None.
// Resolved reports whether the spot carries a usable position.
func (s *Spot) Resolved() bool {
	return s != nil && !s.Position.IsZero() && s.Grid != ""
}

// FormatFreq renders the frequency the way the spot list shows it: one decimal
// below 1 MHz, whole kHz above.
func (s *Spot) FormatFreq() string {
	return FormatKHz(s.FreqKHz)
}

// FormatKHz formats a kHz value with one decimal below 1000 kHz and none above.
func FormatKHz(khz float64) string {
	if khz < 1000 {
		return fmt.Sprintf("%.1f", khz)
	}
	return fmt.Sprintf("%.0f", math.Floor(khz+0.5))
}

// UTCString renders the HHMM stamp with leading zeros.
func (s *Spot) UTCString() string {
	return fmt.Sprintf("%04d", s.UTC)
}

// Label returns the text placed on the map for this spot.
func (s *Spot) Label(usePrefix bool) string {
	if usePrefix && s.Prefix != "" {
		return s.Prefix
	}
	return s.Call
}

// UTCMinutes returns the HHMM stamp for t in UTC.
func UTCMinutes(t time.Time) int {
	t = t.UTC()
	return t.Hour()*100 + t.Minute()
}

// Purpose: Validate the HHMM stamp from a cluster line.
// Key aspects: Rejects hours above 23 and minutes above 59.
// Upstream: cluster.ParseSpotLine.
// Downstream: None.
// ParseHHMM parses a 4-digit HHMM stamp, rejecting impossible times.
func ParseHHMM(v string) (int, bool) {
	if len(v) != 4 {
		return 0, false
	}
	n := 0
	for i := 0; i < 4; i++ {
		c := v[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n/100 > 23 || n%100 > 59 {
		return 0, false
	}
	return n, true
}

func (s *Spot) String() string {
	return fmt.Sprintf("%s %s kHz %sZ %s", s.Call, s.FormatFreq(), s.UTCString(), s.Grid)
}

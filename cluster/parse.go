package cluster

import (
	"regexp"
	"strconv"
	"strings"

	"dxfeed/spot"
)

// Candidate is a spot line that parsed but has not been geocoded yet.
type Candidate struct {
	Spotter     string
	FreqKHz     float64
	Call        string
	Comment     string
	UTC         int
	SpotterGrid string
}

// DX de <spotter>: <freq> <call> <comment> <HHMM>Z [<grid>]
// The optional trailing grid belongs to the spotter.
var spotLineRE = regexp.MustCompile(`(?i)^DX de ([A-Z0-9/#-]+):?\s+([0-9]+(?:\.[0-9]+)?)\s+([A-Z0-9/.]+)\s*(.*?)\s*([0-9]{4})Z(?:\s+([A-R]{2}[0-9]{2}))?\s*$`)

// IsSpotLine is a cheap prefix test used to keep spot traffic seen during
// command exchanges.
func IsSpotLine(line string) bool {
	return len(line) >= 5 && strings.EqualFold(line[:5], "DX de")
}

// ParseSpotLine matches one cluster line. Lines that are not spots, or carry
// an invalid callsign, frequency or time, return ok=false.
func ParseSpotLine(line string) (Candidate, bool) {
	line = scrub(line)
	m := spotLineRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Candidate{}, false
	}
	freq, err := strconv.ParseFloat(m[2], 64)
	if err != nil || freq <= 0 {
		return Candidate{}, false
	}
	call := spot.NormalizeCallsign(m[3])
	if !spot.IsValidCallsign(call) {
		return Candidate{}, false
	}
	utc, ok := spot.ParseHHMM(m[5])
	if !ok {
		return Candidate{}, false
	}
	return Candidate{
		Spotter:     spot.NormalizeCallsign(m[1]),
		FreqKHz:     freq,
		Call:        call,
		Comment:     strings.Join(strings.Fields(m[4]), " "),
		UTC:         utc,
		SpotterGrid: strings.ToUpper(m[6]),
	}, true
}

// scrub replaces control and non-ASCII bytes with spaces.
func scrub(line string) string {
	b := []byte(line)
	for i, c := range b {
		if c < 0x20 || c >= 0x7f {
			b[i] = ' '
		}
	}
	return string(b)
}

package cluster

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dxfeed/transport"
)

// ErrGeocodeFailed means the cluster did not produce a usable heading answer.
// The connection itself is still healthy.
var ErrGeocodeFailed = errors.New("cluster: heading query produced no answer")

var (
	headingRE  = regexp.MustCompile(`(?:^|[^0-9.])([0-9]+(?:\.[0-9]+)?) degs(?:$|[^a-z0-9])`)
	distanceRE = regexp.MustCompile(`(?:^|[^0-9.])([0-9]+(?:\.[0-9]+)?) mi(?:$|[^a-z0-9])`)
)

// ParseHeadingLine extracts the first "<n> degs" and first "<n> mi" figures
// from a heading answer.
func ParseHeadingLine(line string) (headingDeg, distanceMi float64, ok bool) {
	lower := strings.ToLower(line)
	hm := headingRE.FindStringSubmatch(lower)
	dm := distanceRE.FindStringSubmatch(lower)
	if hm == nil || dm == nil {
		return 0, 0, false
	}
	h, err1 := strconv.ParseFloat(hm[1], 64)
	d, err2 := strconv.ParseFloat(dm[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return h, d, true
}

// HeadingQuery bounds one heading exchange.
type HeadingQuery struct {
	MaxLines   int
	MaxLineLen int
	Wait       time.Duration
}

// DefaultHeadingMaxLines is how many response lines are examined for the
// answer before giving up.
const DefaultHeadingMaxLines = 8

// answerNames reports whether a lower-cased heading answer is about call.
// Clusters lead the answer with either the full call or the prefix they
// matched it against, so a line naming some other station (a late answer to
// an earlier query) does not qualify.
func answerNames(lower, call string) bool {
	call = strings.ToLower(call)
	if call == "" {
		return false
	}
	if strings.Contains(lower, call) {
		return true
	}
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return false
	}
	lead := strings.TrimRight(fields[0], ":")
	return lead != "" && strings.HasPrefix(call, lead)
}

// QueryHeading asks the cluster for the great-circle heading and distance to
// call. Lines read while waiting that are not the answer, including answers
// that name a different station, are returned in skipped so the caller can
// still process them. A connection-level failure
// is returned as-is; a missing or malformed answer is ErrGeocodeFailed.
func QueryHeading(st transport.Stream, d Dialect, call string, q HeadingQuery) (headingDeg, distanceMi float64, skipped []string, err error) {
	if q.MaxLines <= 0 {
		q.MaxLines = DefaultHeadingMaxLines
	}
	if q.MaxLineLen <= 0 {
		q.MaxLineLen = DefaultMaxLineLen
	}
	if q.Wait <= 0 {
		q.Wait = DefaultLineWait
	}
	if err := st.WriteLine(d.HeadingCommand(call)); err != nil {
		return 0, 0, nil, fmt.Errorf("cluster: heading query: %w", err)
	}
	marker := strings.ToLower(d.HeadingMarker())
	for i := 0; i < q.MaxLines; i++ {
		line, ok, err := st.ReadLine(q.MaxLineLen, q.Wait)
		if err != nil {
			return 0, 0, skipped, fmt.Errorf("cluster: heading query: %w", err)
		}
		if !ok {
			break
		}
		lower := strings.ToLower(line)
		if !strings.Contains(lower, marker) || !answerNames(lower, call) {
			skipped = append(skipped, line)
			continue
		}
		h, dist, ok := ParseHeadingLine(line)
		if !ok {
			return 0, 0, skipped, fmt.Errorf("%w: %q", ErrGeocodeFailed, line)
		}
		return h, dist, skipped, nil
	}
	return 0, 0, skipped, ErrGeocodeFailed
}

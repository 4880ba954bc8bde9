package ui

import (
	"fmt"
	"strings"

	"dxfeed/spot"
)

var spotColumns = []string{"UTC", "kHz", "Call", "Grid", "Country", "DE", "Comment"}

// rowCells returns the spot list cells for s.
func rowCells(s *spot.Spot) []string {
	return []string{s.UTCString(), s.FormatFreq(), s.Call, s.Grid, s.Country, s.Spotter, s.Comment}
}

// Describe is the one-line detail shown when a label is clicked.
func Describe(s *spot.Spot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s kHz %sZ %s", s.Call, s.FormatFreq(), s.UTCString(), s.Grid)
	if s.Country != "" {
		fmt.Fprintf(&b, " %s", s.Country)
	}
	if s.Spotter != "" {
		fmt.Fprintf(&b, " de %s", s.Spotter)
	}
	if s.Comment != "" {
		fmt.Fprintf(&b, " %q", s.Comment)
	}
	return b.String()
}

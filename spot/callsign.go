package spot

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxCallLen bounds stored callsigns; longer tokens are not amateur calls.
const MaxCallLen = 12

var (
	callsignPattern = regexp.MustCompile(`^[A-Z0-9]+(?:/[A-Z0-9]+)*$`)
	prefixPattern   = regexp.MustCompile(`^[0-9]?[A-Z]+[0-9]+`)
)

var portableSuffixes = []string{"/QRP", "/P", "/M", "/MM", "/AM", "/B"}

// NormalizeCallsign uppercases the string, trims whitespace, and removes
// trailing dots or slashes.
func NormalizeCallsign(call string) string {
	normalized := strings.ToUpper(strings.TrimSpace(call))
	normalized = strings.ReplaceAll(normalized, ".", "/")
	normalized = strings.TrimRight(normalized, "/")
	return strings.TrimSpace(normalized)
}

// IsValidCallsign applies format checks to make sure it looks like an amateur call.
func IsValidCallsign(call string) bool {
	normalized := NormalizeCallsign(call)
	if len(normalized) < 3 || len(normalized) > MaxCallLen {
		return false
	}
	if strings.IndexFunc(normalized, unicode.IsDigit) < 0 {
		return false
	}
	return callsignPattern.MatchString(normalized)
}

// Purpose: Derive a short label when CTY data is unavailable.
// Key aspects: Portable designators are resolved before taking the leading letters and digits.
// Upstream: NewSpot, archive.Recent.
// Downstream: None.
// CallPrefix guesses the prefix of a call: leading letters and digits of the
// part that carries the licence, ignoring portable suffixes.
func CallPrefix(call string) string {
	c := NormalizeCallsign(call)
	for _, suf := range portableSuffixes {
		c = strings.TrimSuffix(c, suf)
	}
	if head, tail, ok := strings.Cut(c, "/"); ok {
		// VP2E/K1ABC operates under the shorter, prefix-like part; K1ABC/4
		// keeps the home call.
		switch {
		case len(tail) < len(head) && strings.IndexFunc(tail, unicode.IsLetter) >= 0:
			c = tail
		default:
			c = head
		}
	}
	if m := prefixPattern.FindString(c); m != "" {
		return m
	}
	return c
}

package cluster

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind tags which wire dialect a session speaks.
type Kind int

const (
	Unknown Kind = iota
	ArCluster
	DxSpider
	Wsjtx
)

func (k Kind) String() string {
	switch k {
	case ArCluster:
		return "AR-Cluster"
	case DxSpider:
		return "DXSpider"
	case Wsjtx:
		return "WSJT-X"
	default:
		return "unknown"
	}
}

// Text reports whether the dialect is a line-oriented telnet dialect.
func (k Kind) Text() bool {
	return k == ArCluster || k == DxSpider
}

// Dialect holds everything that differs between text cluster implementations.
// Adding a dialect means adding one implementation and one fingerprint.
type Dialect interface {
	Kind() Kind
	GridCommand(grid string) string
	LocationCommand(loc string) string
	// Acknowledged reports whether a response line confirms a set command.
	Acknowledged(line string) bool
	KeepaliveCommand() string
	HeadingCommand(call string) string
	// HeadingMarker is the substring identifying the heading/distance answer.
	HeadingMarker() string
}

// DialectFor returns the implementation for a text kind, or nil.
func DialectFor(k Kind) Dialect {
	switch k {
	case DxSpider:
		return dxSpider{}
	case ArCluster:
		return arCluster{}
	default:
		return nil
	}
}

type dxSpider struct{}

func (dxSpider) Kind() Kind                        { return DxSpider }
func (dxSpider) GridCommand(grid string) string    { return "set/qra " + grid }
func (dxSpider) LocationCommand(loc string) string { return "set/location " + loc }
func (dxSpider) Acknowledged(line string) bool     { return strings.Contains(line, ">") }
func (dxSpider) KeepaliveCommand() string          { return "show/date" }
func (dxSpider) HeadingCommand(call string) string { return "show/heading " + call }
func (dxSpider) HeadingMarker() string             { return "degs" }

// arCluster heading answers are known to carry longitude sign errors; the
// dialect is only selected when explicitly allowed.
type arCluster struct{}

func (arCluster) Kind() Kind                        { return ArCluster }
func (arCluster) GridCommand(grid string) string    { return "set station grid " + grid + "jj" }
func (arCluster) LocationCommand(loc string) string { return "set station latlon " + loc }
func (arCluster) KeepaliveCommand() string          { return "show time" }
func (arCluster) HeadingCommand(call string) string { return "show heading " + call }
func (arCluster) HeadingMarker() string             { return "distance" }

func (arCluster) Acknowledged(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "set to") || strings.Contains(lower, "location")
}

var (
	arBannerRE     = regexp.MustCompile(`(?i)\bAR-Cluster\b.*\bV(?:ersion)?\s*(\d+)\.\d+`)
	arKnownMajors  = map[int]bool{6: true, 7: true}
	spiderProduct  = "spider"
	spiderProtocol = "dx"
)

// Fingerprint inspects one banner line and returns the dialect it identifies.
// AR-Cluster is only reported when allowAR is set.
func Fingerprint(line string, allowAR bool) Kind {
	lower := strings.ToLower(line)
	if strings.Contains(lower, spiderProduct) && strings.Contains(lower, spiderProtocol) {
		return DxSpider
	}
	if m := arBannerRE.FindStringSubmatch(line); m != nil {
		major, err := strconv.Atoi(m[1])
		if err == nil && arKnownMajors[major] && allowAR {
			return ArCluster
		}
	}
	return Unknown
}

// IsPrompt reports whether a line is a cluster input prompt.
func IsPrompt(line string) bool {
	return strings.HasSuffix(strings.TrimSpace(line), ">")
}

var digitalModeHosts = []string{"WSJT-X", "WSJTX", "JTDX"}

// IsDigitalModeHost reports whether host names a local digital-mode program
// rather than a cluster server.
func IsDigitalModeHost(host string) bool {
	host = strings.TrimSpace(host)
	for _, name := range digitalModeHosts {
		if strings.EqualFold(host, name) {
			return true
		}
	}
	return false
}

package cluster

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"dxfeed/geo"
	"dxfeed/transport"
)

var (
	ErrConnectFailed   = errors.New("cluster: connect failed")
	ErrUnknownDialect  = errors.New("cluster: unknown cluster type")
	ErrHandshakeFailed = errors.New("cluster: login failed")
	ErrLostConnection  = errors.New("cluster: lost connection")
)

// UserMessage returns the short operator-facing text for a session error, or
// "" when the error should not be surfaced.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrConnectFailed):
		return "Connect failed"
	case errors.Is(err, ErrUnknownDialect):
		return "Unknown cluster type"
	case errors.Is(err, ErrHandshakeFailed):
		return "Cluster login failed"
	case errors.Is(err, ErrLostConnection):
		return "Lost connection"
	default:
		return ""
	}
}

// Options controls session establishment.
type Options struct {
	Callsign       string
	Reference      geo.LatLong
	AllowARCluster bool
	ConnectTimeout time.Duration
	// LineWait bounds each read during detection and handshake.
	LineWait       time.Duration
	MaxLineLen     int
	DetectMaxLines int
	AckMaxLines    int
}

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultLineWait       = 1500 * time.Millisecond
	DefaultMaxLineLen     = 256
	DefaultDetectMaxLines = 20
	DefaultAckMaxLines    = 8
)

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.LineWait <= 0 {
		o.LineWait = DefaultLineWait
	}
	if o.MaxLineLen <= 0 {
		o.MaxLineLen = DefaultMaxLineLen
	}
	if o.DetectMaxLines <= 0 {
		o.DetectMaxLines = DefaultDetectMaxLines
	}
	if o.AckMaxLines <= 0 {
		o.AckMaxLines = DefaultAckMaxLines
	}
	return o
}

// Session is an established connection of a known dialect. Exactly one of
// Stream and Listener is set.
type Session struct {
	Kind     Kind
	Dialect  Dialect
	Stream   transport.Stream
	Listener transport.Listener
	Host     string
	Port     int
	// Pending holds spot lines that arrived while the handshake was waiting
	// for acknowledgments.
	Pending []string
}

// Close releases the underlying socket.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	if s.Stream != nil {
		return s.Stream.Close()
	}
	if s.Listener != nil {
		return s.Listener.Close()
	}
	return nil
}

// Purpose: Establish a session with a cluster node or a digital-mode program.
// Key aspects: Digital-mode host names bind UDP; otherwise dial, log in, detect the dialect and hand over station details.
// Upstream: ingest.Engine.open, cmd/clusterprobe.
// Downstream: detect, handshake, transport.Dialer.
// Open establishes a session to host:port. Digital-mode host names bind a UDP
// listener; anything else is dialed, fingerprinted and configured with the
// station's grid and location. Any partially established connection is
// closed on failure.
func Open(d transport.Dialer, host string, port int, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	host = strings.TrimSpace(host)
	if IsDigitalModeHost(host) {
		l, err := d.ListenUDP(port)
		if err != nil {
			return nil, fmt.Errorf("%w: listen udp %d: %w", ErrConnectFailed, port, err)
		}
		log.Printf("Cluster: listening for %s datagrams on udp/%d", host, port)
		return &Session{Kind: Wsjtx, Listener: l, Host: host, Port: port}, nil
	}
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrConnectFailed)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log.Printf("Cluster: connecting to %s...", addr)
	st, err := d.Dial(host, port, opts.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, addr, err)
	}
	log.Printf("Cluster: logging in to %s as %s", addr, opts.Callsign)
	if err := st.WriteLine(opts.Callsign); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("%w: send callsign: %w", ErrConnectFailed, err)
	}

	kind, err := detect(st, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	dialect := DialectFor(kind)
	s := &Session{Kind: kind, Dialect: dialect, Stream: st, Host: host, Port: port}
	if err := handshake(s, opts); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Printf("Cluster: %s session established with %s", kind, addr)
	return s, nil
}

// Purpose: Identify the cluster software from its greeting.
// Key aspects: Stops at the line bound, a prompt or the first read timeout.
// Upstream: Open.
// Downstream: Fingerprint.
// detect scans the login banner until a prompt, a quiet period or the line
// bound, whichever comes first.
func detect(st transport.Stream, opts Options) (Kind, error) {
	found := Unknown
	for i := 0; i < opts.DetectMaxLines; i++ {
		line, ok, err := st.ReadLine(opts.MaxLineLen, opts.LineWait)
		if err != nil {
			return Unknown, fmt.Errorf("%w: reading banner: %w", ErrConnectFailed, err)
		}
		if !ok {
			break
		}
		if found == Unknown {
			found = Fingerprint(line, opts.AllowARCluster)
		}
		if IsPrompt(line) {
			break
		}
	}
	if found == Unknown {
		return Unknown, ErrUnknownDialect
	}
	return found, nil
}

// Purpose: Send the station grid and location after login.
// Key aspects: Each command waits for the dialect acknowledgement; spot lines seen meanwhile are kept.
// Upstream: Open.
// Downstream: awaitAck.
func handshake(s *Session, opts Options) error {
	grid := geo.LatLongToGrid(opts.Reference)
	loc := geo.DegMin(opts.Reference)
	for _, cmd := range []string{s.Dialect.GridCommand(grid), s.Dialect.LocationCommand(loc)} {
		if err := s.Stream.WriteLine(cmd); err != nil {
			return fmt.Errorf("%w: send %q: %w", ErrHandshakeFailed, cmd, err)
		}
		if err := awaitAck(s, opts); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrHandshakeFailed, cmd, err)
		}
	}
	return nil
}

var errNoAck = errors.New("no acknowledgment")

func awaitAck(s *Session, opts Options) error {
	for i := 0; i < opts.AckMaxLines; i++ {
		line, ok, err := s.Stream.ReadLine(opts.MaxLineLen, opts.LineWait)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if IsSpotLine(line) {
			s.Pending = append(s.Pending, line)
			continue
		}
		if s.Dialect.Acknowledged(line) {
			return nil
		}
	}
	return errNoAck
}

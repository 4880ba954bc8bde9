package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ziutek/telnet"
)

// NetDialer dials real sockets.
type NetDialer struct{}

// Dial connects to host:port over TCP with telnet option handling.
func (NetDialer) Dial(host string, port int, timeout time.Duration) (Stream, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	st, err := NewStream(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return st, nil
}

// ListenUDP binds a datagram listener on all interfaces.
func (NetDialer) ListenUDP(port int) (Listener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp %d: %w", port, err)
	}
	return &udpListener{conn: conn}, nil
}

// NewStream wraps an established connection in the telnet line reader.
func NewStream(conn net.Conn) (Stream, error) {
	tc, err := telnet.NewConn(conn)
	if err != nil {
		return nil, fmt.Errorf("transport: wrap telnet conn: %w", err)
	}
	return newTelnetStream(tc), nil
}

type telnetStream struct {
	conn      *telnet.Conn
	buf       []byte
	readBuf   []byte
	connected bool
	dropping  bool
}

func newTelnetStream(conn *telnet.Conn) *telnetStream {
	conn.SetUnixWriteMode(true)
	return &telnetStream{
		conn:      conn,
		buf:       make([]byte, 0, 512),
		readBuf:   make([]byte, 2048),
		connected: true,
	}
}

func (s *telnetStream) ReadLine(maxLen int, wait time.Duration) (string, bool, error) {
	if !s.connected {
		return "", false, ErrClosed
	}
	if line, ok := s.takeLine(maxLen); ok {
		return line, true, nil
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		s.connected = false
		return "", false, err
	}
	for {
		n, err := s.conn.Read(s.readBuf)
		if n > 0 {
			s.feed(s.readBuf[:n])
			if line, ok := s.takeLine(maxLen); ok {
				return line, true, nil
			}
		}
		if err != nil {
			if isTimeout(err) {
				// Prompts are not newline terminated; hand them up as lines.
				if isPrompt(s.buf) {
					line := clip(strings.TrimRight(string(s.buf), " \r\n"), maxLen)
					s.buf = s.buf[:0]
					return line, true, nil
				}
				return "", false, nil
			}
			s.connected = false
			return "", false, err
		}
	}
}

// feed appends payload bytes, skipping the tail of a line already truncated.
func (s *telnetStream) feed(data []byte) {
	if s.dropping {
		idx := indexTerminator(data)
		if idx < 0 {
			return
		}
		s.dropping = false
		data = data[idx:]
	}
	s.buf = append(s.buf, data...)
}

func (s *telnetStream) takeLine(maxLen int) (string, bool) {
	for {
		s.buf = trimLeadingTerminators(s.buf)
		if len(s.buf) == 0 {
			return "", false
		}
		idx := indexTerminator(s.buf)
		if idx < 0 {
			if maxLen > 0 && len(s.buf) > maxLen {
				line := string(s.buf[:maxLen])
				s.buf = s.buf[:0]
				s.dropping = true
				return line, true
			}
			return "", false
		}
		line := string(s.buf[:idx])
		s.buf = append(s.buf[:0], s.buf[idx:]...)
		if line == "" {
			continue
		}
		return clip(line, maxLen), true
	}
}

func (s *telnetStream) WriteLine(line string) error {
	if !s.connected {
		return ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.connected = false
		return err
	}
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		s.connected = false
		return err
	}
	return nil
}

func (s *telnetStream) IsConnected() bool {
	return s.connected
}

func (s *telnetStream) Close() error {
	s.connected = false
	return s.conn.Close()
}

func clip(line string, maxLen int) string {
	if maxLen > 0 && len(line) > maxLen {
		return line[:maxLen]
	}
	return line
}

func isTerminator(b byte) bool {
	return b == '\n' || b == '\r'
}

func indexTerminator(b []byte) int {
	for i := 0; i < len(b); i++ {
		if isTerminator(b[i]) {
			return i
		}
	}
	return -1
}

func trimLeadingTerminators(b []byte) []byte {
	for len(b) > 0 && isTerminator(b[0]) {
		b = b[1:]
	}
	return b
}

var promptWords = []string{"login:", "call:", "callsign:", "password:"}

// isPrompt reports whether an unterminated buffer looks like a server prompt
// waiting for input rather than a line still in flight.
func isPrompt(b []byte) bool {
	text := strings.TrimSpace(string(b))
	if text == "" {
		return false
	}
	if len(text) >= 5 && strings.EqualFold(text[:5], "DX de") {
		return false
	}
	if strings.HasSuffix(text, ">") {
		return true
	}
	lower := strings.ToLower(text)
	for _, w := range promptWords {
		if strings.HasSuffix(lower, w) {
			return true
		}
	}
	return false
}

type udpListener struct {
	conn *net.UDPConn
}

func (l *udpListener) TryRecv(buf []byte, wait time.Duration) (int, bool, error) {
	if l.conn == nil {
		return 0, false, ErrClosed
	}
	if err := l.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, false, err
	}
	n, _, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

func (l *udpListener) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

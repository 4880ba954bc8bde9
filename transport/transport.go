// Package transport provides the two socket shapes the ingest engine consumes:
// a telnet byte-stream that yields complete lines under a bounded wait, and a
// UDP listener that returns at most one queued datagram per call. Neither ever
// blocks longer than the wait the caller passes in.
package transport

import (
	"errors"
	"net"
	"time"
)

// ErrClosed is returned by operations on a stream or listener after Close or
// after the peer went away.
var ErrClosed = errors.New("transport: closed")

// Stream is a line-oriented byte-stream connection.
type Stream interface {
	// ReadLine returns the next complete line (terminator stripped, at most
	// maxLen bytes). ok is false when no line arrived within wait.
	ReadLine(maxLen int, wait time.Duration) (line string, ok bool, err error)
	// WriteLine sends line followed by a newline.
	WriteLine(line string) error
	IsConnected() bool
	Close() error
}

// Listener is a connectionless datagram receiver.
type Listener interface {
	// TryRecv copies the next queued datagram into buf. ok is false when
	// nothing arrived within wait.
	TryRecv(buf []byte, wait time.Duration) (n int, ok bool, err error)
	Close() error
}

// Dialer opens streams and listeners.
type Dialer interface {
	Dial(host string, port int, timeout time.Duration) (Stream, error)
	ListenUDP(port int) (Listener, error)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// writeTimeout bounds every outbound write so a stalled peer cannot hold the
// caller.
const writeTimeout = 2 * time.Second

// Package transporttest provides scripted in-memory streams, listeners and a
// dialer for exercising session and engine logic without sockets.
package transporttest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dxfeed/transport"
)

type event struct {
	line    string
	timeout bool
	err     error
}

// Stream replays queued lines. An empty queue behaves like a read timeout.
type Stream struct {
	mu        sync.Mutex
	queue     []event
	written   []string
	replies   map[string][]string
	closed    bool
	connected bool
	writeErr  error
}

// NewStream returns a connected stream that will yield lines in order.
func NewStream(lines ...string) *Stream {
	s := &Stream{connected: true, replies: make(map[string][]string)}
	s.Push(lines...)
	return s
}

// Push queues more incoming lines.
func (s *Stream) Push(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines {
		s.queue = append(s.queue, event{line: l})
	}
}

// PushTimeout queues one empty read.
func (s *Stream) PushTimeout() {
	s.mu.Lock()
	s.queue = append(s.queue, event{timeout: true})
	s.mu.Unlock()
}

// Fail queues a read error; the stream reports disconnected once it is read.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.queue = append(s.queue, event{err: err})
	s.mu.Unlock()
}

// Reply arranges for lines to be queued whenever cmd is written.
func (s *Stream) Reply(cmd string, lines ...string) {
	s.mu.Lock()
	s.replies[cmd] = lines
	s.mu.Unlock()
}

// FailWrites makes every later WriteLine return err while reads keep
// working, like a half-closed socket.
func (s *Stream) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// Drop marks the stream disconnected without closing it.
func (s *Stream) Drop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Written returns every line written so far.
func (s *Stream) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) ReadLine(maxLen int, _ time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.connected {
		return "", false, transport.ErrClosed
	}
	if len(s.queue) == 0 {
		return "", false, nil
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	switch {
	case ev.err != nil:
		s.connected = false
		return "", false, ev.err
	case ev.timeout:
		return "", false, nil
	}
	line := ev.line
	if maxLen > 0 && len(line) > maxLen {
		line = line[:maxLen]
	}
	return line, true, nil
}

func (s *Stream) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.connected {
		return transport.ErrClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, line)
	for _, l := range s.replies[line] {
		s.queue = append(s.queue, event{line: l})
	}
	return nil
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Listener replays queued datagrams.
type Listener struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
}

func NewListener() *Listener { return &Listener{} }

// Push queues datagrams.
func (l *Listener) Push(dgrams ...[]byte) {
	l.mu.Lock()
	for _, d := range dgrams {
		l.queue = append(l.queue, append([]byte(nil), d...))
	}
	l.mu.Unlock()
}

// Pending returns how many datagrams are still queued.
func (l *Listener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Listener) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) TryRecv(buf []byte, _ time.Duration) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, false, transport.ErrClosed
	}
	if len(l.queue) == 0 {
		return 0, false, nil
	}
	d := l.queue[0]
	l.queue = l.queue[1:]
	return copy(buf, d), true, nil
}

func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// ErrRefused is returned by Dialer for hosts with no scripted stream.
var ErrRefused = errors.New("transporttest: connection refused")

// Dialer hands out scripted streams by host and listeners by port.
type Dialer struct {
	mu        sync.Mutex
	streams   map[string][]*Stream
	listeners map[int]*Listener
	dials     []string
}

func NewDialer() *Dialer {
	return &Dialer{streams: make(map[string][]*Stream), listeners: make(map[int]*Listener)}
}

// AddStream queues s as the next connection to host. Multiple streams for the
// same host are handed out in order.
func (d *Dialer) AddStream(host string, s *Stream) {
	d.mu.Lock()
	d.streams[host] = append(d.streams[host], s)
	d.mu.Unlock()
}

// AddListener registers l for port.
func (d *Dialer) AddListener(port int, l *Listener) {
	d.mu.Lock()
	d.listeners[port] = l
	d.mu.Unlock()
}

// Dials lists every address dialed so far.
func (d *Dialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func (d *Dialer) Dial(host string, port int, _ time.Duration) (transport.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, fmt.Sprintf("%s:%d", host, port))
	q := d.streams[host]
	if len(q) == 0 {
		return nil, ErrRefused
	}
	s := q[0]
	d.streams[host] = q[1:]
	return s, nil
}

func (d *Dialer) ListenUDP(port int) (transport.Listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, fmt.Sprintf("udp:%d", port))
	l, ok := d.listeners[port]
	if !ok {
		return nil, ErrRefused
	}
	return l, nil
}

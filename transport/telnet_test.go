package transport

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPipeStream(t *testing.T) (Stream, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	s, err := NewStream(local)
	require.NoError(t, err)
	return s, remote
}

func TestReadLineSplitsTerminators(t *testing.T) {
	s, remote := newPipeStream(t)
	go func() {
		_, _ = remote.Write([]byte("first line\r\n\r\nsecond\nthird\r"))
	}()

	for _, want := range []string{"first line", "second", "third"} {
		line, ok, err := s.ReadLine(256, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, line)
	}
}

func TestReadLineJoinsPartialWrites(t *testing.T) {
	s, remote := newPipeStream(t)
	go func() {
		_, _ = remote.Write([]byte("DX de KD0AA:  18100.0"))
		time.Sleep(20 * time.Millisecond)
		_, _ = remote.Write([]byte("  JR1FYS  FT8 2156Z\n"))
	}()

	line, ok, err := s.ReadLine(256, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "DX de KD0AA:  18100.0  JR1FYS  FT8 2156Z", line)
}

func TestReadLineTimesOutWithoutError(t *testing.T) {
	s, _ := newPipeStream(t)
	start := time.Now()
	line, ok, err := s.ReadLine(256, 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, line)
	require.Less(t, time.Since(start), time.Second)
	require.True(t, s.IsConnected())
}

func TestReadLineReturnsUnterminatedPrompt(t *testing.T) {
	s, remote := newPipeStream(t)
	go func() {
		_, _ = remote.Write([]byte("N0CALL de GB7DXS 17-Oct-2026 1200Z dxspider >"))
	}()

	line, ok, err := s.ReadLine(256, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasSuffix(line, ">"))
}

func TestReadLineTruncatesLongLines(t *testing.T) {
	s, remote := newPipeStream(t)
	go func() {
		_, _ = remote.Write([]byte(strings.Repeat("x", 40) + "\nnext\n"))
	}()

	line, ok, err := s.ReadLine(16, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("x", 16), line)

	line, ok, err = s.ReadLine(16, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "next", line)
}

func TestReadLineReportsPeerClose(t *testing.T) {
	s, remote := newPipeStream(t)
	require.NoError(t, remote.Close())

	_, ok, err := s.ReadLine(256, time.Second)
	require.False(t, ok)
	require.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe), "got %v", err)
	require.False(t, s.IsConnected())

	_, _, err = s.ReadLine(256, time.Second)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.WriteLine("x"), ErrClosed)
}

func TestWriteLineUsesCRLF(t *testing.T) {
	s, remote := newPipeStream(t)
	got := make(chan string, 1)
	go func() {
		// The telnet writer emits the CRLF as a separate write.
		buf := make([]byte, len("set/qra FN42\r\n"))
		_, _ = io.ReadFull(remote, buf)
		got <- string(buf)
	}()

	require.NoError(t, s.WriteLine("set/qra FN42"))
	select {
	case v := <-got:
		require.Equal(t, "set/qra FN42\r\n", v)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for write")
	}
}

func TestUDPListenerTryRecv(t *testing.T) {
	l, err := NetDialer{}.ListenUDP(0)
	require.NoError(t, err)
	defer l.Close()

	buf := make([]byte, 512)
	_, ok, err := l.TryRecv(buf, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	addr := l.(*udpListener).conn.LocalAddr().(*net.UDPAddr)
	out, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port})
	require.NoError(t, err)
	defer out.Close()
	_, err = out.Write([]byte("hello"))
	require.NoError(t, err)

	n, ok, err := l.TryRecv(buf, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestNetDialerDialsTelnetStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write([]byte("Hello N0CALL\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s, err := NetDialer{}.Dial("127.0.0.1", port, time.Second)
	require.NoError(t, err)
	defer s.Close()
	line, ok, err := s.ReadLine(256, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Hello N0CALL", line)
}

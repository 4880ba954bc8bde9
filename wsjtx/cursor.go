// Package wsjtx decodes the WSJT-X UDP message protocol. Only the Status
// message is of interest: it carries the station currently selected in the
// program's DX call box, the dial frequency and the DX grid.
package wsjtx

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShort     = errors.New("wsjtx: datagram truncated")
	ErrBadMagic  = errors.New("wsjtx: bad magic")
	ErrNotStatus = errors.New("wsjtx: not a status message")
	ErrBadString = errors.New("wsjtx: malformed string length")
)

// nullString is the length prefix of an absent string.
const nullString = 0xFFFFFFFF

// cursor reads big-endian fields from a datagram without ever indexing past
// its end. The first failure sticks; later reads return zero values.
type cursor struct {
	b   []byte
	off int
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || len(c.b)-c.off < n {
		c.err = ErrShort
		return nil
	}
	p := c.b[c.off : c.off+n]
	c.off += n
	return p
}

func (c *cursor) u32() uint32 {
	p := c.take(4)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (c *cursor) u64() uint64 {
	p := c.take(8)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

func (c *cursor) bool() bool {
	p := c.take(1)
	return p != nil && p[0] != 0
}

func (c *cursor) str() string {
	n := c.u32()
	if c.err != nil || n == nullString {
		return ""
	}
	if uint64(n) > uint64(len(c.b)-c.off) {
		c.err = ErrBadString
		return ""
	}
	return string(c.take(int(n)))
}

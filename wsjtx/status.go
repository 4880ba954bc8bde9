package wsjtx

import "strings"

// Magic opens every datagram.
const Magic = 0xADBCCBDA

// SchemaVersion is what EncodeStatus writes; Decode accepts any.
const SchemaVersion = 2

const TypeStatus = 1

// Status is the subset of a Status message the decoder keeps. The remaining
// fields are read to advance the cursor and discarded.
type Status struct {
	ID           string
	DialFreqHz   uint64
	Mode         string
	DXCall       string
	DECall       string
	DEGrid       string
	DXGrid       string
	Transmitting bool
}

// DialKHz returns the dial frequency in kHz.
func (s Status) DialKHz() float64 {
	return float64(s.DialFreqHz) / 1000
}

// Decode parses one datagram. Any sender id is accepted so that compatible
// programs such as JTDX work unchanged.
func Decode(b []byte) (Status, error) {
	c := &cursor{b: b}
	if c.u32() != Magic {
		if c.err != nil {
			return Status{}, c.err
		}
		return Status{}, ErrBadMagic
	}
	_ = c.u32() // schema
	typ := c.u32()
	if c.err != nil {
		return Status{}, c.err
	}
	if typ != TypeStatus {
		return Status{}, ErrNotStatus
	}
	var s Status
	s.ID = c.str()
	s.DialFreqHz = c.u64()
	s.Mode = c.str()
	s.DXCall = strings.ToUpper(strings.TrimSpace(c.str()))
	_ = c.str()  // report
	_ = c.str()  // tx mode
	_ = c.bool() // tx enabled
	s.Transmitting = c.bool()
	_ = c.bool() // decoding
	_ = c.u32()  // rx df
	_ = c.u32()  // tx df
	s.DECall = c.str()
	s.DEGrid = c.str()
	s.DXGrid = strings.ToUpper(strings.TrimSpace(c.str()))
	if c.err != nil {
		return Status{}, c.err
	}
	return s, nil
}

package wsjtx

import (
	"encoding/binary"
)

// EncodeStatus builds a Status datagram carrying s. Fields Status does not
// model are written as empty strings, false flags and zero offsets.
func EncodeStatus(s Status) []byte {
	b := make([]byte, 0, 128)
	b = binary.BigEndian.AppendUint32(b, Magic)
	b = binary.BigEndian.AppendUint32(b, SchemaVersion)
	b = binary.BigEndian.AppendUint32(b, TypeStatus)
	b = appendString(b, s.ID)
	b = binary.BigEndian.AppendUint64(b, s.DialFreqHz)
	b = appendString(b, s.Mode)
	b = appendString(b, s.DXCall)
	b = appendString(b, "")
	b = appendString(b, s.Mode)
	b = append(b, 0, boolByte(s.Transmitting), 0)
	b = binary.BigEndian.AppendUint32(b, 0)
	b = binary.BigEndian.AppendUint32(b, 0)
	b = appendString(b, s.DECall)
	b = appendString(b, s.DEGrid)
	b = appendString(b, s.DXGrid)
	return b
}

func appendString(b []byte, v string) []byte {
	if v == "" {
		return binary.BigEndian.AppendUint32(b, nullString)
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

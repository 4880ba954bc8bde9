package wsjtx

import (
	"time"

	"dxfeed/transport"
)

// MaxDatagram is large enough for any Status message.
const MaxDatagram = 1024

// drainWait is the wait used after the first datagram; anything not already
// queued belongs to the next poll.
const drainWait = time.Millisecond

// Drained reports what one Latest call saw.
type Drained struct {
	Status   Status
	Payload  []byte
	Found    bool
	Received int
	Ignored  int
}

// Latest reads up to bound queued datagrams from l and keeps only the most
// recent one that decodes as Status. Datagrams that fail to decode are counted
// and dropped. Only a transport error is returned.
func Latest(l transport.Listener, bound int, wait time.Duration) (Drained, error) {
	var out Drained
	buf := make([]byte, MaxDatagram)
	for i := 0; i < bound; i++ {
		if i > 0 {
			wait = drainWait
		}
		n, ok, err := l.TryRecv(buf, wait)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out.Received++
		st, err := Decode(buf[:n])
		if err != nil {
			out.Ignored++
			continue
		}
		out.Status = st
		out.Payload = append(out.Payload[:0], buf[:n]...)
		out.Found = true
	}
	return out, nil
}

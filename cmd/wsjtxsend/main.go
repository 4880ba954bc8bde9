// Command wsjtxsend emits WSJT-X Status datagrams to a UDP port so the
// digital-mode path of dxfeed can be exercised without a radio.
package main

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"dxfeed/wsjtx"

	"github.com/spf13/pflag"
)

func main() {
	target := pflag.String("target", "127.0.0.1:2237", "host:port dxfeed listens on")
	id := pflag.String("id", "WSJT-X", "sender id")
	freq := pflag.Float64("freq", 14074, "dial frequency in kHz")
	mode := pflag.String("mode", "FT8", "mode")
	dxCall := pflag.String("dx-call", "JR1FYS", "DX call")
	dxGrid := pflag.String("dx-grid", "PM95", "DX grid")
	deCall := pflag.String("de-call", "N0CALL", "operator call")
	deGrid := pflag.String("de-grid", "FN31", "operator grid")
	count := pflag.Int("count", 1, "datagrams to send")
	interval := pflag.Duration("interval", time.Second, "pause between datagrams")
	pflag.Parse()

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("wsjtxsend: dial %s: %v", *target, err)
	}
	defer conn.Close()

	status := wsjtx.Status{
		ID:         *id,
		DialFreqHz: uint64(*freq*1000 + 0.5),
		Mode:       *mode,
		DXCall:     strings.ToUpper(*dxCall),
		DECall:     strings.ToUpper(*deCall),
		DEGrid:     strings.ToUpper(*deGrid),
		DXGrid:     strings.ToUpper(*dxGrid),
	}
	payload := wsjtx.EncodeStatus(status)
	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		if _, err := conn.Write(payload); err != nil {
			log.Fatalf("wsjtxsend: write: %v", err)
		}
		fmt.Printf("sent %d bytes: %s %.1f kHz %s %s\n", len(payload), status.DXCall, status.DialKHz(), status.DXGrid, status.Mode)
	}
}

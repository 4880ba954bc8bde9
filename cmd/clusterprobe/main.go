// Command clusterprobe opens one session against a DX cluster using the same
// dialect detection and handshake as dxfeed, then prints every raw line next
// to what the spot parser makes of it. With --heading it also asks the cluster
// for the heading to each parsed call. It is a standalone debugging utility
// and starts no sinks.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dxfeed/cluster"
	"dxfeed/geo"
	"dxfeed/transport"

	"github.com/spf13/pflag"
)

func main() {
	host := pflag.String("host", "localhost", "cluster host (wsjtx or jtdx binds a UDP listener instead)")
	port := pflag.Int("port", 7300, "cluster port")
	call := pflag.String("call", "N0CALL", "callsign used to log in")
	grid := pflag.String("grid", "FN31", "station grid sent during the handshake")
	allowAR := pflag.Bool("allow-arcluster", false, "accept AR-Cluster nodes")
	heading := pflag.Bool("heading", false, "query the heading for every parsed spot")
	duration := pflag.Duration("duration", 2*time.Minute, "how long to read before exiting (0 runs until interrupted)")
	maxLine := pflag.Int("max-line-length", cluster.DefaultMaxLineLen, "longest line accepted from the cluster")
	pflag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	ref, err := geo.GridToLatLong(strings.ToUpper(*grid))
	if err != nil {
		log.Fatalf("clusterprobe: bad --grid: %v", err)
	}

	sess, err := cluster.Open(transport.NetDialer{}, *host, *port, cluster.Options{
		Callsign:       strings.ToUpper(strings.TrimSpace(*call)),
		Reference:      ref,
		AllowARCluster: *allowAR,
		MaxLineLen:     *maxLine,
	})
	if err != nil {
		log.Fatalf("clusterprobe: open %s:%d: %v (%s)", *host, *port, err, cluster.UserMessage(err))
	}
	defer sess.Close()
	log.Printf("clusterprobe: connected to %s:%d, dialect %s", *host, *port, sess.Kind)

	if !sess.Kind.Text() {
		log.Printf("clusterprobe: %s sessions carry datagrams, not lines; use wsjtxsend to exercise them", sess.Kind)
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	queue := append([]string(nil), sess.Pending...)
	for {
		select {
		case <-sig:
			return
		case <-deadline:
			return
		default:
		}
		var line string
		if len(queue) > 0 {
			line, queue = queue[0], queue[1:]
		} else {
			next, ok, err := sess.Stream.ReadLine(*maxLine, 500*time.Millisecond)
			if err != nil {
				log.Fatalf("clusterprobe: read: %v", err)
			}
			if !ok {
				continue
			}
			line = next
		}
		fmt.Printf("RAW   %s\n", line)
		cand, ok := cluster.ParseSpotLine(line)
		if !ok {
			continue
		}
		fmt.Printf("SPOT  call=%s freq=%.1f utc=%04d spotter=%s grid=%s comment=%q\n",
			cand.Call, cand.FreqKHz, cand.UTC, cand.Spotter, cand.SpotterGrid, cand.Comment)
		if !*heading {
			continue
		}
		deg, mi, skipped, err := cluster.QueryHeading(sess.Stream, sess.Dialect, cand.Call, cluster.HeadingQuery{MaxLineLen: *maxLine})
		queue = append(queue, skipped...)
		if err != nil {
			fmt.Printf("HEAD  %s: %v\n", cand.Call, err)
			continue
		}
		pos := geo.Destination(ref, deg, mi)
		fmt.Printf("HEAD  %s: %.0f deg %.0f mi -> %s\n", cand.Call, deg, mi, geo.LatLongToGrid(pos))
	}
}

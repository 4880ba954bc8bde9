package ingest

import (
	"errors"
	"fmt"
	"log"
	"time"

	"dxfeed/cluster"
	"dxfeed/spot"
	"dxfeed/wsjtx"

	"github.com/zeebo/xxh3"
)

// drainWait is the read wait after the first line of a poll; lines not
// already buffered wait for the next tick.
const drainWait = time.Millisecond

// Poll runs one supervisor step. A disabled feed returns nil. Errors are the
// session sentinels from the cluster package; the renderer has already been
// given the matching message.
func (e *Engine) Poll() error {
	now := e.opts.Now()
	set := e.opts.Settings
	if !set.ClusterEnabled() {
		if e.sess != nil {
			e.teardown("disabled")
		}
		e.clearIfStale(now)
		return nil
	}

	host, port := set.ClusterHost(), set.ClusterPort()
	if e.sess != nil && (e.sess.Host != host || e.sess.Port != port) {
		e.teardown(fmt.Sprintf("configuration now points at %s:%d", host, port))
	}
	if e.sess == nil {
		e.clearIfStale(now)
		if err := e.open(host, port, now); err != nil {
			return err
		}
	}

	if e.sess.Kind == cluster.Wsjtx {
		return e.pollDatagrams(now)
	}
	return e.pollText(now)
}

func (e *Engine) open(host string, port int, now time.Time) error {
	set := e.opts.Settings
	sess, err := cluster.Open(e.opts.Dialer, host, port, cluster.Options{
		Callsign:       set.OperatorCallsign(),
		Reference:      set.ReferencePosition(),
		AllowARCluster: e.opts.AllowARCluster,
		ConnectTimeout: e.opts.ConnectTimeout,
		LineWait:       e.opts.LineWait,
		MaxLineLen:     e.opts.MaxLineLen,
		DetectMaxLines: e.opts.DetectMaxLines,
	})
	if err != nil {
		log.Printf("Ingest: open %s:%d: %v", host, port, err)
		e.opts.Metrics.SessionFailed(failureKind(err))
		e.showError(cluster.UserMessage(err))
		return err
	}
	e.sess = sess
	e.backlog = append([]string(nil), sess.Pending...)
	e.lastActivity = now
	e.disconnectedAt = time.Time{}
	e.havePayload = false
	e.opts.Metrics.SessionOpened(sess.Kind.String())
	e.clearError()
	return nil
}

// lost tears the session down after a transport failure.
func (e *Engine) lost(cause error) error {
	err := fmt.Errorf("%w: %w", cluster.ErrLostConnection, cause)
	log.Printf("Ingest: %v", err)
	e.opts.Metrics.SessionFailed(failureKind(err))
	e.teardown("lost connection")
	e.showError(cluster.UserMessage(err))
	return err
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, cluster.ErrConnectFailed):
		return "connect"
	case errors.Is(err, cluster.ErrUnknownDialect):
		return "unknown_dialect"
	case errors.Is(err, cluster.ErrHandshakeFailed):
		return "handshake"
	case errors.Is(err, cluster.ErrLostConnection):
		return "lost"
	default:
		return "other"
	}
}

func (e *Engine) nextLine(wait time.Duration) (string, bool, error) {
	if len(e.backlog) > 0 {
		line := e.backlog[0]
		e.backlog = e.backlog[1:]
		return line, true, nil
	}
	line, ok, err := e.sess.Stream.ReadLine(e.opts.MaxLineLen, wait)
	if ok {
		e.opts.Metrics.LineRead()
	}
	return line, ok, err
}

func (e *Engine) pollText(now time.Time) error {
	wait := e.opts.PollWait
	e.queriesLeft = e.opts.MaxHeadingQueries
	for i := 0; i < e.opts.MaxLinesPerPoll; i++ {
		line, ok, err := e.nextLine(wait)
		if err != nil {
			return e.lost(fmt.Errorf("read: %w", err))
		}
		if !ok {
			break
		}
		wait = drainWait
		if err := e.routeLine(line, now); err != nil {
			if errors.Is(err, errQueryBudget) {
				e.backlog = append([]string{line}, e.backlog...)
				break
			}
			return err
		}
	}

	if now.Sub(e.lastActivity) > e.opts.Keepalive {
		cmd := e.sess.Dialect.KeepaliveCommand()
		if err := e.sess.Stream.WriteLine(cmd); err != nil {
			return e.lost(fmt.Errorf("keepalive %q: %w", cmd, err))
		}
		e.lastActivity = now
	}
	return nil
}

// routeLine handles one cluster line. A transport failure during the heading
// query is returned, as is errQueryBudget when the line needs a query this
// poll can no longer afford.
func (e *Engine) routeLine(line string, now time.Time) error {
	cand, ok := cluster.ParseSpotLine(line)
	if !ok {
		return nil
	}
	s := spot.NewSpot(cand.Call, cand.FreqKHz, cand.UTC, spot.SourceCluster)
	s.Spotter = cand.Spotter
	s.SpotterGrid = cand.SpotterGrid
	s.Comment = cand.Comment
	if e.store.WouldRepeat(s.Call, s.FreqKHz) {
		e.opts.Metrics.Repeat()
		return nil
	}

	pos, err := e.locate(s.Call)
	if err != nil {
		if errors.Is(err, cluster.ErrGeocodeFailed) {
			e.opts.Metrics.GeocodeFailed()
			return nil
		}
		if errors.Is(err, errQueryBudget) {
			return err
		}
		return e.lost(err)
	}
	s.Position = pos
	s.Grid = e.opts.Resolver.LatLongToGrid(pos)
	e.accept(s, now)
	return nil
}

func (e *Engine) pollDatagrams(now time.Time) error {
	d, err := wsjtx.Latest(e.sess.Listener, e.opts.MaxDatagramsPerPoll, e.opts.PollWait)
	e.opts.Metrics.DatagramsIgnored(d.Ignored)
	if err != nil {
		return e.lost(fmt.Errorf("receive: %w", err))
	}
	if !d.Found {
		return nil
	}
	h := xxh3.Hash(d.Payload)
	if e.havePayload && h == e.lastPayload {
		return nil
	}
	e.lastPayload, e.havePayload = h, true
	e.routeStatus(d.Status, now)
	return nil
}

func (e *Engine) routeStatus(st wsjtx.Status, now time.Time) {
	if st.DialFreqHz == 0 || !spot.IsValidCallsign(st.DXCall) {
		return
	}
	pos, err := e.opts.Resolver.GridToLatLong(st.DXGrid)
	if err != nil {
		return
	}
	s := spot.NewSpot(st.DXCall, st.DialKHz(), spot.UTCMinutes(now), spot.SourceWSJTX)
	s.Position = pos
	s.Grid = e.opts.Resolver.LatLongToGrid(pos)
	s.Spotter = st.DECall
	s.SpotterGrid = st.DEGrid
	s.Comment = st.Mode
	if e.store.WouldRepeat(s.Call, s.FreqKHz) {
		e.opts.Metrics.Repeat()
		return
	}
	e.accept(s, now)
}

func (e *Engine) accept(s *spot.Spot, now time.Time) {
	s.Received = now
	if e.opts.CTY != nil {
		e.opts.CTY.Enrich(s)
	}
	if !e.store.Insert(s) {
		e.opts.Metrics.Repeat()
		return
	}
	e.lastActivity = now
	for _, sink := range e.opts.Sinks {
		sink.Enqueue(s)
	}
	e.opts.Metrics.SpotAccepted(string(s.Source))
	e.opts.Metrics.SetHeld(e.store.Len())
}

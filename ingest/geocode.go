package ingest

import (
	"errors"
	"log"

	"dxfeed/cluster"
	"dxfeed/geo"
)

var errQueryBudget = errors.New("ingest: heading query budget spent for this poll")

// locate positions a cluster call: from the cache when fresh, otherwise by
// asking the cluster for heading and distance from the reference point. Lines
// read while waiting for the answer go back on the backlog.
func (e *Engine) locate(call string) (geo.LatLong, error) {
	if e.opts.Geocache != nil {
		if entry, ok := e.opts.Geocache.Get(call); ok {
			e.opts.Metrics.GeocodeCacheHit()
			return entry.Position, nil
		}
	}
	if e.queriesLeft <= 0 {
		return geo.LatLong{}, errQueryBudget
	}
	e.queriesLeft--
	heading, dist, skipped, err := cluster.QueryHeading(e.sess.Stream, e.sess.Dialect, call, cluster.HeadingQuery{
		MaxLines:   e.opts.HeadingMaxLines,
		MaxLineLen: e.opts.MaxLineLen,
		Wait:       e.opts.LineWait,
	})
	for range skipped {
		e.opts.Metrics.LineRead()
	}
	e.backlog = append(e.backlog, skipped...)
	if err != nil {
		return geo.LatLong{}, err
	}
	pos := e.opts.Resolver.Destination(e.opts.Settings.ReferencePosition(), heading, dist)
	if e.opts.Geocache != nil {
		if err := e.opts.Geocache.Put(call, pos); err != nil {
			log.Printf("Ingest: geocache put %s: %v", call, err)
		}
	}
	return pos, nil
}

// Package metrics counts what the ingest engine does. Tracker keeps in-process
// counters for the periodic summary line; Collector mirrors them into
// Prometheus for the /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus series exported by dxfeed.
type Collector struct {
	gatherer prometheus.Gatherer

	Lines            prometheus.Counter
	Spots            *prometheus.CounterVec
	Repeats          prometheus.Counter
	GeocodeFailures  prometheus.Counter
	GeocodeCacheHits prometheus.Counter
	DatagramsIgnored prometheus.Counter
	Sessions         *prometheus.CounterVec
	SessionFailures  *prometheus.CounterVec
	HeldSpots        prometheus.Gauge
}

// NewCollector registers the dxfeed series against reg, defaulting to the
// global registry when nil. Registering twice returns the existing series.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}
	var err error

	if c.Lines, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dxfeed_lines_total",
		Help: "Cluster lines read from the telnet session.",
	}), "dxfeed_lines_total"); err != nil {
		return nil, err
	}
	if c.Spots, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dxfeed_spots_accepted_total",
		Help: "Spots inserted into the spot list, by source.",
	}, []string{"source"}), "dxfeed_spots_accepted_total"); err != nil {
		return nil, err
	}
	if c.Repeats, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dxfeed_spots_repeated_total",
		Help: "Spots dropped as repeats of the most recent entry.",
	}), "dxfeed_spots_repeated_total"); err != nil {
		return nil, err
	}
	if c.GeocodeFailures, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dxfeed_geocode_failures_total",
		Help: "Cluster spots dropped because the heading query gave no position.",
	}), "dxfeed_geocode_failures_total"); err != nil {
		return nil, err
	}
	if c.GeocodeCacheHits, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dxfeed_geocode_cache_hits_total",
		Help: "Cluster spots positioned from the geocode cache.",
	}), "dxfeed_geocode_cache_hits_total"); err != nil {
		return nil, err
	}
	if c.DatagramsIgnored, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dxfeed_datagrams_ignored_total",
		Help: "WSJT-X datagrams that were not a decodable Status message.",
	}), "dxfeed_datagrams_ignored_total"); err != nil {
		return nil, err
	}
	if c.Sessions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dxfeed_sessions_opened_total",
		Help: "Sessions opened, by dialect.",
	}, []string{"dialect"}), "dxfeed_sessions_opened_total"); err != nil {
		return nil, err
	}
	if c.SessionFailures, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dxfeed_session_failures_total",
		Help: "Session open failures and connection losses, by kind.",
	}, []string{"kind"}), "dxfeed_session_failures_total"); err != nil {
		return nil, err
	}
	if c.HeldSpots, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dxfeed_spots_held",
		Help: "Spots currently held in the spot list.",
	}), "dxfeed_spots_held"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve starts the /metrics listener in the background. Cancel ctx to stop it.
func (c *Collector) Serve(ctx context.Context, listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("Metrics: serving /metrics on %s", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics: listener stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

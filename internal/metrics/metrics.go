// Package metrics exposes pipeline observability over Prometheus,
// adapted from ponytojas-gtfs-simulator-go/internal/metrics.Collector:
// same NewRegistry + MustRegister + promhttp.HandlerFor shape,
// regrounded on this pipeline's own counters and gauges instead of the
// simulator's trip/NATS metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector holds every metric the pipeline updates.
type Collector struct {
	reg *prometheus.Registry

	FramesReceived   prometheus.Counter
	FramesRejected   *prometheus.CounterVec // reason label: bad_input|storage_error
	ActiveBuses      prometheus.Gauge
	SublineMatches   prometheus.Counter
	SublineDrops     prometheus.Counter
	MessagesSent     *prometheus.CounterVec // type label: position|close|esta-info
	ConnectionsDrop  prometheus.Counter
	SubscribedRoutes prometheus.Gauge

	FrameProcessingDuration prometheus.Histogram
	CatalogQueryDuration    prometheus.Histogram
}

// NewCollector constructs and registers every metric.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitcore_frames_received_total",
			Help: "Total inbound driver telemetry frames received.",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitcore_frames_rejected_total",
			Help: "Total inbound frames rejected, by reason.",
		}, []string{"reason"}),
		ActiveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitcore_active_buses",
			Help: "Number of buses with tracked state.",
		}),
		SublineMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitcore_subline_matches_total",
			Help: "Total successful matcher invocations.",
		}),
		SublineDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitcore_subline_unresolved_total",
			Help: "Total messages dropped for an unresolved subline.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitcore_messages_sent_total",
			Help: "Total outbound messages broadcast, by type.",
		}, []string{"type"}),
		ConnectionsDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitcore_connections_dropped_total",
			Help: "Total subscriber connections evicted for a full send queue.",
		}),
		SubscribedRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitcore_subscribed_routes",
			Help: "Number of main routes with at least one subscriber.",
		}),
		FrameProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitcore_frame_processing_seconds",
			Help:    "Duration of one pipeline pass over an inbound frame.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		CatalogQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitcore_catalog_query_seconds",
			Help:    "Duration of a Catalog Reader storage query.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}

	reg.MustRegister(
		c.FramesReceived, c.FramesRejected, c.ActiveBuses,
		c.SublineMatches, c.SublineDrops, c.MessagesSent,
		c.ConnectionsDrop, c.SubscribedRoutes,
		c.FrameProcessingDuration, c.CatalogQueryDuration,
	)

	return c
}

// Handler returns the /metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}

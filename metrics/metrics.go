// Package metrics holds the prometheus collectors for the map engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "estatemap"

type Metrics struct {
	registry *prometheus.Registry

	IndexBuildDuration prometheus.Histogram
	IndexedPoints      prometheus.Gauge
	ReconcileOps       *prometheus.CounterVec
	IsochroneOutcomes  *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so tests can create
// as many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		IndexBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Time spent building the cluster index.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		IndexedPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_points",
			Help:      "Points in the most recently built index.",
		}),
		ReconcileOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_operations_total",
			Help:      "Marker operations emitted by reconciliation.",
		}, []string{"op"}),
		IsochroneOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isochrone_results_total",
			Help:      "Isochrone fetch completions by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Map sessions held by the runner.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.IndexBuildDuration,
		m.IndexedPoints,
		m.ReconcileOps,
		m.IsochroneOutcomes,
		m.ActiveSessions,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDiff counts the marker operations of one reconcile pass.
func (m *Metrics) ObserveDiff(added, updated, removed int) {
	if m == nil {
		return
	}
	m.ReconcileOps.WithLabelValues("add").Add(float64(added))
	m.ReconcileOps.WithLabelValues("update").Add(float64(updated))
	m.ReconcileOps.WithLabelValues("remove").Add(float64(removed))
}

func (m *Metrics) IsochroneOutcome(outcome string) {
	if m == nil {
		return
	}
	m.IsochroneOutcomes.WithLabelValues(outcome).Inc()
}

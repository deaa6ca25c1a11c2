package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports retrieval events as Prometheus metrics on a
// private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	retrievals *prometheus.CounterVec
	degraded   *prometheus.CounterVec
	zero       prometheus.Counter
	latency    prometheus.Histogram
	results    prometheus.Histogram
	queries    prometheus.Histogram
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the retrieval metric family.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	r := &PrometheusRecorder{
		registry: registry,
		retrievals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sopfusion",
				Subsystem: "retrieval",
				Name:      "requests_total",
				Help:      "Total retrievals by affected module.",
			},
			[]string{"module"},
		),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sopfusion",
				Subsystem: "retrieval",
				Name:      "degraded_stages_total",
				Help:      "Pipeline stages that fell back or were skipped.",
			},
			[]string{"stage"},
		),
		zero: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sopfusion",
			Subsystem: "retrieval",
			Name:      "zero_results_total",
			Help:      "Retrievals that returned no documents.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sopfusion",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "End-to-end retrieval latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sopfusion",
			Subsystem: "retrieval",
			Name:      "documents",
			Help:      "Documents returned per retrieval.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		queries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sopfusion",
			Subsystem: "retrieval",
			Name:      "queries",
			Help:      "Query variants searched per retrieval.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		r.retrievals,
		r.degraded,
		r.zero,
		r.latency,
		r.results,
		r.queries,
	)
	return r
}

// RecordRetrieval implements Recorder.
func (r *PrometheusRecorder) RecordRetrieval(event RetrievalEvent) {
	module := event.Module
	if module == "" {
		module = "unknown"
	}
	r.retrievals.WithLabelValues(module).Inc()
	for _, stage := range event.DegradedStages {
		r.degraded.WithLabelValues(stage).Inc()
	}
	if event.IsZeroResult() {
		r.zero.Inc()
	}
	r.latency.Observe(event.Latency.Seconds())
	r.results.Observe(float64(event.ResultCount))
	r.queries.Observe(float64(event.NumQueries))
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

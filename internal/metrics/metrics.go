// Package metrics exposes prometheus collectors for the engine, cache
// gate, and scanner. Callers pass the same registry to the ops HTTP
// server to serve /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the engine's prometheus collectors.
type Metrics struct {
	cacheResults  *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	fetchFailures prometheus.Counter
	decisions     *prometheus.CounterVec
	evaluateTime  prometheus.Histogram
	scanTime      prometheus.Histogram
	scanPartial   prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalrun",
			Subsystem: "cache",
			Name:      "gate_results_total",
			Help:      "Cache gate outcomes by freshness state.",
		}, []string{"state"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalrun",
			Subsystem: "cache",
			Name:      "refreshes_total",
			Help:      "Series refreshes by result.",
		}, []string{"result"}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalrun",
			Subsystem: "fetch",
			Name:      "failures_total",
			Help:      "Data source fetch failures.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalrun",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Decisions by action.",
		}, []string{"action"}),
		evaluateTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalrun",
			Subsystem: "engine",
			Name:      "evaluate_duration_seconds",
			Help:      "Wall time of single-ticker evaluations.",
			Buckets:   prometheus.DefBuckets,
		}),
		scanTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalrun",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall time of batch scans.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),
		scanPartial: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalrun",
			Subsystem: "scan",
			Name:      "partial_total",
			Help:      "Scans that hit the wall-clock budget before finishing.",
		}),
	}

	reg.MustRegister(
		m.cacheResults,
		m.refreshes,
		m.fetchFailures,
		m.decisions,
		m.evaluateTime,
		m.scanTime,
		m.scanPartial,
	)
	return m
}

// ObserveGate records a cache gate outcome ("fresh", "stale_partial",
// "stale_full", "stale_fallback").
func (m *Metrics) ObserveGate(state string) {
	m.cacheResults.WithLabelValues(state).Inc()
}

// ObserveRefresh records a refresh result ("ok" or "error").
func (m *Metrics) ObserveRefresh(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

// ObserveFetchFailure counts a data source failure.
func (m *Metrics) ObserveFetchFailure() {
	m.fetchFailures.Inc()
}

// ObserveEvaluate records one evaluation.
func (m *Metrics) ObserveEvaluate(action string, elapsed time.Duration) {
	m.decisions.WithLabelValues(action).Inc()
	m.evaluateTime.Observe(elapsed.Seconds())
}

// ObserveScan records one batch scan.
func (m *Metrics) ObserveScan(elapsed time.Duration, partial bool) {
	m.scanTime.Observe(elapsed.Seconds())
	if partial {
		m.scanPartial.Inc()
	}
}

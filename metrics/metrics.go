// Package metrics exposes optional Prometheus counters for the engine's
// pull/push/history behavior. A nil *Metrics is a valid no-op receiver, so
// components never need to branch on whether metrics were configured.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters the engine updates. Construct with New and
// register Collectors() with a prometheus.Registerer of the caller's
// choosing — metrics sink wiring, like logging, is an external concern.
type Metrics struct {
	PullHits      *prometheus.CounterVec
	PullMisses    *prometheus.CounterVec
	PushSuccess   *prometheus.CounterVec
	PushConflicts *prometheus.CounterVec
	HistoryDepth  prometheus.Histogram
	RePulls       prometheus.Counter
}

// New builds a fresh Metrics instance with unregistered collectors.
func New() *Metrics {
	return &Metrics{
		PullHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depwarm_pull_hits_total",
			Help: "Successful bundle pulls, by backend alias.",
		}, []string{"backend"}),
		PullMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depwarm_pull_misses_total",
			Help: "BundleNotFound responses, by backend alias.",
		}, []string{"backend"}),
		PushSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depwarm_push_success_total",
			Help: "Successful bundle pushes, by backend alias.",
		}, []string{"backend"}),
		PushConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depwarm_push_conflicts_total",
			Help: "BundleAlreadyExists responses, by backend alias.",
		}, []string{"backend"}),
		HistoryDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "depwarm_history_depth_consumed",
			Help:    "User-visible history depth consumed per successful history fallback.",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		}),
		RePulls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "depwarm_repulls_total",
			Help: "Install passes that re-entered the orchestrator after a push conflict.",
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.PullHits, m.PullMisses, m.PushSuccess, m.PushConflicts, m.HistoryDepth, m.RePulls,
	}
}

// PullHit records a successful pull from backend.
func (m *Metrics) PullHit(backend string) {
	if m == nil {
		return
	}
	m.PullHits.WithLabelValues(backend).Inc()
}

// PullMiss records a BundleNotFound from backend.
func (m *Metrics) PullMiss(backend string) {
	if m == nil {
		return
	}
	m.PullMisses.WithLabelValues(backend).Inc()
}

// PushSuccessRecord records a successful push to backend.
func (m *Metrics) PushSuccessRecord(backend string) {
	if m == nil {
		return
	}
	m.PushSuccess.WithLabelValues(backend).Inc()
}

// PushConflictRecord records a BundleAlreadyExists from backend.
func (m *Metrics) PushConflictRecord(backend string) {
	if m == nil {
		return
	}
	m.PushConflicts.WithLabelValues(backend).Inc()
}

// HistoryDepthRecord records the user-visible depth consumed by one
// successful history fallback (revisions whose fingerprint repeated the
// previous one are not counted).
func (m *Metrics) HistoryDepthRecord(depth int) {
	if m == nil {
		return
	}
	m.HistoryDepth.Observe(float64(depth))
}

// RePullRecord records one re-entry of the orchestrator after a push
// conflict.
func (m *Metrics) RePullRecord() {
	if m == nil {
		return
	}
	m.RePulls.Inc()
}

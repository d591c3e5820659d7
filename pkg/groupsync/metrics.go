package groupsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	// updatesTotal counts finished updates by result.
	updatesTotal *prometheus.CounterVec
	// pathsTotal counts router decisions by path.
	pathsTotal *prometheus.CounterVec
	// fallbacksTotal counts credential and access fallbacks by reason.
	fallbacksTotal *prometheus.CounterVec
	// droppedFieldsTotal counts fields omitted during decryption.
	droppedFieldsTotal *prometheus.CounterVec
	// skippedChangesTotal counts log entries that failed and were skipped.
	skippedChangesTotal prometheus.Counter
	// updateDuration tracks end-to-end update latency.
	updateDuration prometheus.Histogram
}

// NewMetrics registers the engine collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		updatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupsync_updates_total",
			Help: "Total group updates by result",
		}, []string{"result"}),
		pathsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupsync_update_paths_total",
			Help: "Total update router decisions by path",
		}, []string{"path"}),
		fallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupsync_fallbacks_total",
			Help: "Total fallbacks by reason",
		}, []string{"reason"}),
		droppedFieldsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupsync_dropped_fields_total",
			Help: "Total fields or entries dropped during decryption",
		}, []string{"field"}),
		skippedChangesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "groupsync_skipped_changes_total",
			Help: "Total change log entries skipped after failing to apply",
		}),
		updateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupsync_update_duration_seconds",
			Help:    "Group update duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
	}
}

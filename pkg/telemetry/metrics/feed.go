package metrics

import (
	"time"

	"mercator-hq/rules/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// FeedMetrics tracks the change feed and scheduled reconciliation.
//
// Metrics:
//   - mercator_rules_feed_events_applied_total: Applied events by type
//   - mercator_rules_feed_events_rejected_total: Dropped events by reason
//   - mercator_rules_feed_last_sequence: Sequence of the last applied event
//   - mercator_rules_reconcile_runs_total: Reconcile runs by status
//   - mercator_rules_reconcile_duration_seconds: Reconcile run duration
type FeedMetrics struct {
	appliedTotal      *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	lastSequence      prometheus.Gauge
	reconcileTotal    *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
}

// NewFeedMetrics creates and registers feed metrics with the provided registry.
func NewFeedMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *FeedMetrics {
	fm := &FeedMetrics{
		appliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "feed_events_applied_total",
				Help:      "Total number of change events applied to the rule set",
			},
			[]string{"type"},
		),

		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "feed_events_rejected_total",
				Help:      "Total number of change events dropped",
			},
			[]string{"reason"},
		),

		lastSequence: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "feed_last_sequence",
				Help:      "Sequence number of the last applied change event",
			},
		),

		reconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reconcile_runs_total",
				Help:      "Total number of scheduled reloads from the store",
			},
			[]string{"status"},
		),

		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of scheduled reloads in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),
	}

	registry.MustRegister(
		fm.appliedTotal,
		fm.rejectedTotal,
		fm.lastSequence,
		fm.reconcileTotal,
		fm.reconcileDuration,
	)

	return fm
}

// RecordApplied records an applied event and its sequence number.
func (fm *FeedMetrics) RecordApplied(eventType string, sequence uint64) {
	fm.appliedTotal.WithLabelValues(eventType).Inc()
	fm.lastSequence.Set(float64(sequence))
}

// RecordRejected records a dropped event.
func (fm *FeedMetrics) RecordRejected(reason string) {
	fm.rejectedTotal.WithLabelValues(reason).Inc()
}

// RecordReconcile records a reconcile run.
func (fm *FeedMetrics) RecordReconcile(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	fm.reconcileTotal.WithLabelValues(status).Inc()
	fm.reconcileDuration.Observe(d.Seconds())
}

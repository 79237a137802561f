package metrics

import (
	"mercator-hq/rules/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// AuditMetrics tracks the decision audit trail.
//
// Metrics:
//   - mercator_rules_audit_records_total: Audit records by status (written, dropped, failed)
//   - mercator_rules_audit_pruned_total: Records removed by retention pruning
type AuditMetrics struct {
	recordsTotal *prometheus.CounterVec
	prunedTotal  prometheus.Counter
}

// NewAuditMetrics creates and registers audit metrics with the provided registry.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_records_total",
				Help:      "Total number of decision audit records by outcome",
			},
			[]string{"status"},
		),

		prunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_pruned_total",
				Help:      "Total number of audit records removed by retention",
			},
		),
	}

	registry.MustRegister(am.recordsTotal, am.prunedTotal)
	return am
}

// RecordStatus counts one audit record outcome.
func (am *AuditMetrics) RecordStatus(status string) {
	am.recordsTotal.WithLabelValues(status).Inc()
}

// RecordPruned counts pruned records.
func (am *AuditMetrics) RecordPruned(n int64) {
	am.prunedTotal.Add(float64(n))
}

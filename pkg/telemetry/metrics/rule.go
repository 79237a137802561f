package metrics

import (
	"time"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"

	"github.com/prometheus/client_golang/prometheus"
)

// RuleMetrics tracks rule evaluation and rule set metrics.
//
// Metrics:
//   - mercator_rules_rule_evaluations_total: Rule evaluations by kind and outcome
//   - mercator_rules_rule_evaluation_duration_seconds: Per-rule evaluation duration
//   - mercator_rules_evaluations_total: Pipeline evaluations by status
//   - mercator_rules_evaluation_duration_seconds: Pipeline evaluation duration
//   - mercator_rules_loaded: Rules in the live snapshot by kind
//   - mercator_rules_snapshot_version: Version of the live snapshot
type RuleMetrics struct {
	// Per-rule evaluations
	ruleEvaluationsTotal *prometheus.CounterVec

	// Per-rule duration histogram
	ruleDuration *prometheus.HistogramVec

	// Whole pipeline evaluations
	evaluationsTotal *prometheus.CounterVec

	// Whole pipeline duration histogram
	evaluationDuration prometheus.Histogram

	// Live rule counts
	loaded *prometheus.GaugeVec

	// Live snapshot version
	snapshotVersion prometheus.Gauge
}

// NewRuleMetrics creates and registers rule metrics with the provided registry.
func NewRuleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RuleMetrics {
	rm := &RuleMetrics{
		ruleEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluations_total",
				Help:      "Total number of individual rule evaluations",
			},
			[]string{"kind", "outcome"},
		),

		ruleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluation_duration_seconds",
				Help:      "Duration of individual rule evaluations in seconds",
				// Cached expressions evaluate in microseconds
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"kind"},
		),

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of transaction evaluations",
			},
			[]string{"status"},
		),

		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of transaction evaluations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 160ms
			},
		),

		loaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "loaded",
				Help:      "Number of rules in the live rule set",
			},
			[]string{"kind"},
		),

		snapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "snapshot_version",
				Help:      "Version of the live rule set snapshot",
			},
		),
	}

	registry.MustRegister(
		rm.ruleEvaluationsTotal,
		rm.ruleDuration,
		rm.evaluationsTotal,
		rm.evaluationDuration,
		rm.loaded,
		rm.snapshotVersion,
	)

	return rm
}

// RecordRule records one rule evaluation.
func (rm *RuleMetrics) RecordRule(kind, outcome string, d time.Duration) {
	rm.ruleEvaluationsTotal.WithLabelValues(kind, outcome).Inc()
	rm.ruleDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordEvaluation records one pipeline evaluation. A non-nil err means the
// evaluation was aborted (for example by cancellation), not that a rule
// failed.
func (rm *RuleMetrics) RecordEvaluation(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	rm.evaluationsTotal.WithLabelValues(status).Inc()
	rm.evaluationDuration.Observe(d.Seconds())
}

// RecordSnapshot sets the rule count gauges for every kind, including kinds
// with no rules.
func (rm *RuleMetrics) RecordSnapshot(s *registry.Snapshot) {
	for _, k := range rules.Kinds {
		rm.loaded.WithLabelValues(string(k)).Set(float64(s.Count(k)))
	}
	rm.snapshotVersion.Set(float64(s.Version))
}

package metrics

import (
	"mercator-hq/rules/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Lookup results.
const (
	lookupHit  = "hit"
	lookupMiss = "miss"
)

// CacheMetrics tracks the compiled expression cache.
//
// Metrics:
//   - mercator_rules_expression_cache_lookups_total: Lookups by result (hit, miss)
//   - mercator_rules_expression_cache_evictions_total: Capacity evictions
//   - mercator_rules_expression_cache_entries: Programs currently cached
type CacheMetrics struct {
	lookupsTotal   *prometheus.CounterVec
	evictionsTotal prometheus.Counter
	entries        prometheus.Gauge
}

// NewCacheMetrics creates and registers expression cache metrics with the
// provided registry.
func NewCacheMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "expression_cache_lookups_total",
				Help:      "Total number of expression cache lookups by result",
			},
			[]string{"result"},
		),

		evictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "expression_cache_evictions_total",
				Help:      "Total number of compiled programs evicted for capacity",
			},
		),

		entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "expression_cache_entries",
				Help:      "Number of compiled programs currently cached",
			},
		),
	}

	// Both results are exported from the start so hit ratios never divide
	// by a missing series.
	cm.lookupsTotal.WithLabelValues(lookupHit)
	cm.lookupsTotal.WithLabelValues(lookupMiss)

	registry.MustRegister(cm.lookupsTotal, cm.evictionsTotal, cm.entries)
	return cm
}

// RecordLookup counts one lookup.
func (cm *CacheMetrics) RecordLookup(hit bool) {
	result := lookupMiss
	if hit {
		result = lookupHit
	}
	cm.lookupsTotal.WithLabelValues(result).Inc()
}

// RecordEviction counts a capacity eviction. Purges are not counted.
func (cm *CacheMetrics) RecordEviction() {
	cm.evictionsTotal.Inc()
}

// SetEntries records the number of cached programs.
func (cm *CacheMetrics) SetEntries(n int) {
	cm.entries.Set(float64(n))
}

package metrics

import (
	"time"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/registry"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric exported by the rules service.
// It satisfies the measurement interfaces of the pipeline, the expression
// cache, the change feed and the reconciler, so one value can be handed to
// each of them.
//
// All methods are no-ops when metrics are disabled.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	rules    *RuleMetrics
	cache    *CacheMetrics
	feed     *FeedMetrics
	requests *RequestMetrics
	audit    *AuditMetrics
}

// NewCollector creates a collector registering into registry. If registry
// is nil a private registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "mercator",
//		Subsystem: "rules",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		rules:    NewRuleMetrics(cfg, registry),
		cache:    NewCacheMetrics(cfg, registry),
		feed:     NewFeedMetrics(cfg, registry),
		requests: NewRequestMetrics(cfg, registry),
		audit:    NewAuditMetrics(cfg, registry),
	}
}

// ObserveRule records a single rule evaluation.
//
// Parameters:
//   - kind: rule kind ("routing", "fraud", "compliance", "business")
//   - outcome: "matched", "unmatched", "skipped" or "error"
//   - d: time spent evaluating the rule expression
func (c *Collector) ObserveRule(kind, outcome string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.rules.RecordRule(kind, outcome, d)
}

// ObserveEvaluation records one pipeline evaluation call.
func (c *Collector) ObserveEvaluation(d time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.rules.RecordEvaluation(d, err)
}

// RecordSnapshot exports the rule counts and version of a newly published
// snapshot. It is intended as the registry's OnPublish hook.
func (c *Collector) RecordSnapshot(s *registry.Snapshot) {
	if !c.config.Enabled {
		return
	}
	c.rules.RecordSnapshot(s)
}

// CacheHit records an expression cache hit.
func (c *Collector) CacheHit() {
	if !c.config.Enabled {
		return
	}
	c.cache.RecordLookup(true)
}

// CacheMiss records an expression cache miss.
func (c *Collector) CacheMiss() {
	if !c.config.Enabled {
		return
	}
	c.cache.RecordLookup(false)
}

// CacheEviction records an expression cache eviction.
func (c *Collector) CacheEviction() {
	if !c.config.Enabled {
		return
	}
	c.cache.RecordEviction()
}

// UpdateCacheSize updates the number of cached programs.
func (c *Collector) UpdateCacheSize(size int) {
	if !c.config.Enabled {
		return
	}
	c.cache.SetEntries(size)
}

// EventApplied records a change event applied to the registry.
//
// Parameters:
//   - eventType: "upsert", "delete" or "full_reload"
//   - sequence: the event sequence number
func (c *Collector) EventApplied(eventType string, sequence uint64) {
	if !c.config.Enabled {
		return
	}
	c.feed.RecordApplied(eventType, sequence)
}

// EventRejected records a change event that was dropped.
//
// Parameters:
//   - reason: "decode", "validation", "duplicate" or "panic"
func (c *Collector) EventRejected(reason string) {
	if !c.config.Enabled {
		return
	}
	c.feed.RecordRejected(reason)
}

// ReconcileCompleted records a scheduled full reload from the store.
func (c *Collector) ReconcileCompleted(d time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.feed.RecordReconcile(d, err)
}

// RecordHTTPRequest records a served HTTP request.
//
// Parameters:
//   - method: HTTP method
//   - route: route pattern (e.g. "/v1/rules/{id}"), never the raw path
//   - status: response status code
//   - d: time to serve the request
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.requests.RecordRequest(method, route, status, d)
}

// AuditRecord counts an audit record.
//
// Parameters:
//   - status: "written", "dropped" or "failed"
func (c *Collector) AuditRecord(status string) {
	if !c.config.Enabled {
		return
	}
	c.audit.RecordStatus(status)
}

// AuditPruned counts records removed by retention pruning.
func (c *Collector) AuditPruned(n int64) {
	if !c.config.Enabled {
		return
	}
	c.audit.RecordPruned(n)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

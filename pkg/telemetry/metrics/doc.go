// Package metrics provides Prometheus metrics for the rules service.
//
// # Metrics Categories
//
//   - Rule Metrics: per-rule outcomes and durations, pipeline evaluations,
//     live rule counts and snapshot version
//   - Cache Metrics: expression cache hits, misses, evictions and size
//   - Feed Metrics: applied and rejected change events, reconcile runs
//   - Request Metrics: HTTP API traffic by route
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	reg := registry.New(registry.Config{OnPublish: collector.RecordSnapshot})
//	c := cache.New(size).WithObserver(collector)
//	p, _ := pipeline.New(reg, c, nil, logger)
//	p.WithMetrics(collector)
//
//	http.Handle("/metrics", collector.Handler())
//
// # Cardinality
//
// Labels are bounded: rule kinds, outcomes, event types and chi route
// patterns. Rule identifiers are never used as labels; per-rule counters
// are served by the pipeline's stats endpoint instead.
package metrics

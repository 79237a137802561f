// Package health provides liveness, readiness and version endpoints.
//
//   - /health: Liveness probe. Always 200 while the process runs, with a
//     summary of the live rule set and evaluation statistics.
//   - /ready: Readiness probe. Runs the registered dependency checks (store,
//     change feed) concurrently, each bounded by a timeout.
//   - /version: Build information.
//
// # Usage
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("store", backend.Ping)
//	checker.SetDetails(func() any { return pipeline.Health() })
//
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
package health

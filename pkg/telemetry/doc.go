// Package telemetry groups the observability packages of the rules service.
//
//   - logging: slog construction with request and trace context fields
//   - metrics: Prometheus collectors for rules, cache, feed and HTTP
//   - tracing: OpenTelemetry tracer with an OTLP gRPC exporter
//   - health: liveness, readiness and version endpoints
package telemetry

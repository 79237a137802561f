// Package tracing provides OpenTelemetry distributed tracing for the rules
// service.
//
// Spans are exported over OTLP gRPC. When tracing is disabled the package
// hands out a noop tracer, so instrumented code never branches on whether
// tracing is on.
//
// # Sampling Strategies
//
//   - always: Sample all traces (development/debugging)
//   - never: Sample no traces
//   - ratio: Sample a fraction of traces (production)
//
// Every strategy respects the sampling decision of a remote parent.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	p.WithTracer(tracer.Tracer())
//	handler = tracer.HTTPMiddleware(handler)
package tracing

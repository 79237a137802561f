// Package logging builds the service's structured logger.
//
// The logger is a plain *slog.Logger with a JSON or text handler. Every
// component receives it by injection. Records logged through the
// *Context methods pick up the request ID stored with WithRequestID and
// the active OpenTelemetry trace and span IDs.
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "rule updated", "rule_id", id)
package logging

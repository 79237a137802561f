package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error refers to field.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateFeed(&cfg.Feed)...)
	errs = append(errs, validateReconcile(&cfg.Reconcile)...)
	errs = append(errs, validateReconcileFeed(cfg)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address: %v", err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must be non-negative"})
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "cert file is required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "key file is required when TLS is enabled"})
		}
		switch cfg.TLS.MinVersion {
		case "", "1.2", "1.3":
		default:
			errs = append(errs, FieldError{
				Field:   "server.tls.min_version",
				Message: fmt.Sprintf("invalid TLS version %q (must be 1.2 or 1.3)", cfg.TLS.MinVersion),
			})
		}
	}
	if cfg.TLS.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "reload interval must be non-negative"})
	}

	if cfg.Auth.Enabled && len(cfg.Auth.Keys) == 0 {
		errs = append(errs, FieldError{Field: "server.auth.keys", Message: "at least one key is required when auth is enabled"})
	}
	for i, k := range cfg.Auth.Keys {
		field := fmt.Sprintf("server.auth.keys[%d]", i)
		if k.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "key name is required"})
		}
		set := 0
		for _, v := range []string{k.Key, k.KeyEnv, k.KeyFile} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			errs = append(errs, FieldError{Field: field, Message: "exactly one of key, key_env and key_file must be set"})
		}
	}

	return errs
}

// validateEngine validates engine configuration.
func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if cfg.CacheSize < 0 {
		errs = append(errs, FieldError{Field: "engine.cache_size", Message: "cache size must be non-negative"})
	}
	if cfg.MaxExpressionLength < 1 {
		errs = append(errs, FieldError{Field: "engine.max_expression_length", Message: "max expression length must be positive"})
	}
	if cfg.MaxDepth < 1 || cfg.MaxDepth > 1024 {
		errs = append(errs, FieldError{Field: "engine.max_depth", Message: "max depth must be between 1 and 1024"})
	}

	switch cfg.RoutingMode {
	case "first_match", "all_matches":
	default:
		errs = append(errs, FieldError{
			Field:   "engine.routing_mode",
			Message: fmt.Sprintf("invalid routing mode %q (must be first_match or all_matches)", cfg.RoutingMode),
		})
	}
	switch cfg.FraudMode {
	case "aggregate", "first_match":
	default:
		errs = append(errs, FieldError{
			Field:   "engine.fraud_mode",
			Message: fmt.Sprintf("invalid fraud mode %q (must be aggregate or first_match)", cfg.FraudMode),
		})
	}

	if cfg.DefaultPageSize < 1 {
		errs = append(errs, FieldError{Field: "engine.default_page_size", Message: "default page size must be positive"})
	}
	if cfg.MaxPageSize < 1 {
		errs = append(errs, FieldError{Field: "engine.max_page_size", Message: "max page size must be positive"})
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize && cfg.MaxPageSize > 0 {
		errs = append(errs, FieldError{Field: "engine.default_page_size", Message: "default page size exceeds max page size"})
	}

	return errs
}

// validateStore validates store configuration.
func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "store.sqlite.path", Message: "path is required for sqlite backend"})
		}
		switch cfg.SQLite.Driver {
		case "sqlite", "sqlite3":
		default:
			errs = append(errs, FieldError{
				Field:   "store.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be sqlite or sqlite3)", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.MaxOpenConns < 1 {
			errs = append(errs, FieldError{Field: "store.sqlite.max_open_conns", Message: "max open connections must be positive"})
		}
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{Field: "store.redis.address", Message: "address is required for redis backend"})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "store.redis.db", Message: "db must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory, sqlite or redis)", cfg.Backend),
		})
	}

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "store.timeout", Message: "timeout must be positive"})
	}

	return errs
}

// validateFeed validates feed configuration.
func validateFeed(cfg *FeedConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "none":
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{Field: "feed.redis.address", Message: "address is required for redis feed"})
		}
		if cfg.Redis.Stream == "" {
			errs = append(errs, FieldError{Field: "feed.redis.stream", Message: "stream is required for redis feed"})
		}
		if cfg.Redis.Group == "" {
			errs = append(errs, FieldError{Field: "feed.redis.group", Message: "group is required for redis feed"})
		}
		if cfg.Redis.BatchSize < 1 {
			errs = append(errs, FieldError{Field: "feed.redis.batch_size", Message: "batch size must be positive"})
		}
	case "spool":
		if cfg.Spool.Path == "" {
			errs = append(errs, FieldError{Field: "feed.spool.path", Message: "path is required for spool feed"})
		}
		if cfg.Spool.Debounce < 0 {
			errs = append(errs, FieldError{Field: "feed.spool.debounce", Message: "debounce must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "feed.backend",
			Message: fmt.Sprintf("invalid backend %q (must be none, redis or spool)", cfg.Backend),
		})
	}

	if cfg.Publish && cfg.Backend != "redis" {
		errs = append(errs, FieldError{Field: "feed.publish", Message: "publishing requires the redis feed backend"})
	}

	return errs
}

// validateReconcile validates reconcile configuration.
func validateReconcile(cfg *ReconcileConfig) []FieldError {
	var errs []FieldError
	if !cfg.Enabled {
		return errs
	}

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "reconcile.schedule",
			Message: fmt.Sprintf("invalid cron schedule: %v", err),
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "reconcile.timeout", Message: "timeout must be positive"})
	}

	return errs
}

// validateReconcileFeed rejects a reconcile schedule that would replace the
// registry with store contents that never received feed events.
func validateReconcileFeed(cfg *Config) []FieldError {
	if !cfg.Reconcile.Enabled || cfg.Feed.MirrorToStore {
		return nil
	}
	if cfg.Feed.Backend == "" || cfg.Feed.Backend == "none" {
		return nil
	}
	return []FieldError{{
		Field:   "feed.mirror_to_store",
		Message: fmt.Sprintf("reconcile with the %s feed requires mirror_to_store", cfg.Feed.Backend),
	}}
}

// validateAudit validates audit configuration.
func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError
	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "path is required for sqlite backend"})
		}
		switch cfg.SQLite.Driver {
		case "sqlite", "sqlite3":
		default:
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be sqlite or sqlite3)", cfg.SQLite.Driver),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", cfg.Backend),
		})
	}

	if cfg.Buffer < 1 {
		errs = append(errs, FieldError{Field: "audit.buffer", Message: "buffer must be positive"})
	}
	if cfg.Retention < 0 {
		errs = append(errs, FieldError{Field: "audit.retention", Message: "retention must be non-negative"})
	}
	if cfg.MaxRecords < 0 {
		errs = append(errs, FieldError{Field: "audit.max_records", Message: "max records must be non-negative"})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "audit.prune_schedule",
			Message: fmt.Sprintf("invalid cron schedule: %v", err),
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q (must be json or text)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never, or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	return errs
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "RULES_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Default, so absent fields keep their
// defaults. Unknown fields are rejected. The result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration on top of Default without validating.
// Empty input yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RULES_SECTION_FIELD (e.g., RULES_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from the defaults.
//
// The loading sequence is:
// 1. Load YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Malformed values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError
	env := envReader{errs: &errs}

	// Server overrides
	env.stringVar("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	env.durationVar("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	env.durationVar("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	env.durationVar("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	env.durationVar("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	env.int64Var("SERVER_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)
	env.boolVar("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	env.stringVar("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	env.stringVar("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	env.boolVar("SERVER_AUTH_ENABLED", &cfg.Server.Auth.Enabled)

	// Engine overrides
	env.intVar("ENGINE_CACHE_SIZE", &cfg.Engine.CacheSize)
	env.intVar("ENGINE_MAX_EXPRESSION_LENGTH", &cfg.Engine.MaxExpressionLength)
	env.intVar("ENGINE_MAX_DEPTH", &cfg.Engine.MaxDepth)
	env.boolVar("ENGINE_PREVALIDATE_EXPRESSIONS", &cfg.Engine.PrevalidateExpressions)
	env.stringVar("ENGINE_ROUTING_MODE", &cfg.Engine.RoutingMode)
	env.stringVar("ENGINE_FRAUD_MODE", &cfg.Engine.FraudMode)
	env.intVar("ENGINE_DEFAULT_PAGE_SIZE", &cfg.Engine.DefaultPageSize)
	env.intVar("ENGINE_MAX_PAGE_SIZE", &cfg.Engine.MaxPageSize)

	// Store overrides
	env.stringVar("STORE_BACKEND", &cfg.Store.Backend)
	env.durationVar("STORE_TIMEOUT", &cfg.Store.Timeout)
	env.stringVar("STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	env.stringVar("STORE_SQLITE_DRIVER", &cfg.Store.SQLite.Driver)
	env.durationVar("STORE_SQLITE_BUSY_TIMEOUT", &cfg.Store.SQLite.BusyTimeout)
	env.stringVar("STORE_REDIS_ADDRESS", &cfg.Store.Redis.Address)
	env.stringVar("STORE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	env.intVar("STORE_REDIS_DB", &cfg.Store.Redis.DB)
	env.stringVar("STORE_REDIS_KEY_PREFIX", &cfg.Store.Redis.KeyPrefix)

	// Feed overrides
	env.stringVar("FEED_BACKEND", &cfg.Feed.Backend)
	env.boolVar("FEED_MIRROR_TO_STORE", &cfg.Feed.MirrorToStore)
	env.boolVar("FEED_PUBLISH", &cfg.Feed.Publish)
	env.stringVar("FEED_REDIS_ADDRESS", &cfg.Feed.Redis.Address)
	env.stringVar("FEED_REDIS_PASSWORD", &cfg.Feed.Redis.Password)
	env.intVar("FEED_REDIS_DB", &cfg.Feed.Redis.DB)
	env.stringVar("FEED_REDIS_STREAM", &cfg.Feed.Redis.Stream)
	env.stringVar("FEED_REDIS_GROUP", &cfg.Feed.Redis.Group)
	env.stringVar("FEED_REDIS_CONSUMER", &cfg.Feed.Redis.Consumer)
	env.durationVar("FEED_REDIS_BLOCK", &cfg.Feed.Redis.Block)
	env.stringVar("FEED_SPOOL_PATH", &cfg.Feed.Spool.Path)
	env.durationVar("FEED_SPOOL_DEBOUNCE", &cfg.Feed.Spool.Debounce)

	// Reconcile overrides
	env.boolVar("RECONCILE_ENABLED", &cfg.Reconcile.Enabled)
	env.stringVar("RECONCILE_SCHEDULE", &cfg.Reconcile.Schedule)
	env.durationVar("RECONCILE_TIMEOUT", &cfg.Reconcile.Timeout)

	// Audit overrides
	env.boolVar("AUDIT_ENABLED", &cfg.Audit.Enabled)
	env.stringVar("AUDIT_BACKEND", &cfg.Audit.Backend)
	env.stringVar("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	env.durationVar("AUDIT_RETENTION", &cfg.Audit.Retention)
	env.int64Var("AUDIT_MAX_RECORDS", &cfg.Audit.MaxRecords)

	// Bootstrap overrides
	env.stringVar("BOOTSTRAP_RULES_FILE", &cfg.Bootstrap.RulesFile)
	env.boolVar("BOOTSTRAP_SEED_SAMPLES", &cfg.Bootstrap.SeedSamples)

	// Telemetry overrides
	env.stringVar("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	env.stringVar("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	env.boolVar("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	env.stringVar("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	env.boolVar("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	env.stringVar("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	env.stringVar("TELEMETRY_TRACING_SERVICE_NAME", &cfg.Telemetry.Tracing.ServiceName)
	env.floatVar("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
	env.boolVar("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// envReader assigns RULES_* variables to configuration fields, recording
// a FieldError for every value that does not parse.
type envReader struct {
	errs *[]FieldError
}

func (r envReader) lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (r envReader) fail(key string, err error) {
	*r.errs = append(*r.errs, FieldError{
		Field:   EnvPrefix + key,
		Message: err.Error(),
	})
}

func (r envReader) stringVar(key string, dst *string) {
	if val, ok := r.lookup(key); ok {
		*dst = val
	}
}

func (r envReader) durationVar(key string, dst *time.Duration) {
	if val, ok := r.lookup(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = d
	}
}

func (r envReader) intVar(key string, dst *int) {
	if val, ok := r.lookup(key); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = i
	}
}

func (r envReader) int64Var(key string, dst *int64) {
	if val, ok := r.lookup(key); ok {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = i
	}
}

func (r envReader) boolVar(key string, dst *bool) {
	if val, ok := r.lookup(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = b
	}
}

func (r envReader) floatVar(key string, dst *float64) {
	if val, ok := r.lookup(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = f
	}
}

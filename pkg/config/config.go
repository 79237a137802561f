package config

import "time"

// Config is the root configuration structure for the rules service.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Engine contains evaluation engine configuration: expression cache,
	// admission limits, aggregation modes and list pagination.
	Engine EngineConfig `yaml:"engine"`

	// Store selects and configures the persistence backend for rules.
	Store StoreConfig `yaml:"store"`

	// Feed selects and configures the change feed that drives the registry.
	Feed FeedConfig `yaml:"feed"`

	// Reconcile configures the periodic full reload from the store.
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// Bootstrap configures rules loaded at startup.
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Audit configures the decision audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry contains configuration for logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// during graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS serves the API over HTTPS when enabled.
	TLS TLSConfig `yaml:"tls"`

	// Auth guards the rule management routes with API keys.
	Auth AuthConfig `yaml:"auth"`
}

// TLSConfig configures HTTPS for the API server.
type TLSConfig struct {
	// Enabled turns on TLS.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the PEM-encoded certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. Zero disables reloading.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// AuthConfig configures API key authentication for rule writes.
type AuthConfig struct {
	// Enabled requires a valid key on every create, update and delete.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ProtectReads also requires a key on rule listing, lookup and stats.
	// Evaluation and the operational endpoints are never guarded.
	// Default: false
	ProtectReads bool `yaml:"protect_reads"`

	// Header carries the key, optionally as "Bearer <key>".
	// Default: "Authorization"
	Header string `yaml:"header"`

	// Keys lists the accepted keys.
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig describes one accepted key. Exactly one of Key, KeyEnv and
// KeyFile must be set.
type APIKeyConfig struct {
	// Name identifies the key holder in logs.
	Name string `yaml:"name"`

	// Key is the literal key.
	Key string `yaml:"key"`

	// KeyEnv names an environment variable holding the key.
	KeyEnv string `yaml:"key_env"`

	// KeyFile is a file whose trimmed contents are the key.
	KeyFile string `yaml:"key_file"`

	// Disabled rejects the key without removing it.
	Disabled bool `yaml:"disabled"`
}

// EngineConfig contains configuration for rule admission and evaluation.
// These values are fixed at startup.
type EngineConfig struct {
	// CacheSize is the number of compiled expressions kept in the LRU cache.
	// Zero disables caching.
	// Default: 10000
	CacheSize int `yaml:"cache_size"`

	// MaxExpressionLength rejects rules whose expression is longer.
	// Default: 1000
	MaxExpressionLength int `yaml:"max_expression_length"`

	// MaxDepth is the maximum expression nesting depth.
	// Default: 64
	MaxDepth int `yaml:"max_depth"`

	// PrevalidateExpressions compiles every expression at admission so that
	// rules with unsafe or malformed expressions are rejected up front.
	// Default: true
	PrevalidateExpressions bool `yaml:"prevalidate_expressions"`

	// RoutingMode is "first_match" or "all_matches".
	// Default: "first_match"
	RoutingMode string `yaml:"routing_mode"`

	// FraudMode is "aggregate" or "first_match".
	// Default: "aggregate"
	FraudMode string `yaml:"fraud_mode"`

	// DefaultPageSize is the page size used by rule listing.
	// Default: 50
	DefaultPageSize int `yaml:"default_page_size"`

	// MaxPageSize caps the page size accepted by rule listing.
	// Default: 1000
	MaxPageSize int `yaml:"max_page_size"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite" or "redis".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Timeout bounds every backend operation.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/rules.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// MaxOpenConns limits open connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`
}

// RedisConfig contains connection settings for a Redis server.
type RedisConfig struct {
	// Address is the Redis server address.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is the optional Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix is prepended to every rule key.
	// Default: "rule:"
	KeyPrefix string `yaml:"key_prefix"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// FeedConfig selects and configures the change feed.
type FeedConfig struct {
	// Backend is one of "none", "redis" or "spool".
	// Default: "none"
	Backend string `yaml:"backend"`

	// Redis configures the Redis Streams feed.
	Redis RedisFeedConfig `yaml:"redis"`

	// Spool configures the directory spool feed.
	Spool SpoolConfig `yaml:"spool"`

	// MirrorToStore writes every applied event through to the store.
	// Default: false
	MirrorToStore bool `yaml:"mirror_to_store"`

	// Publish fans administrative changes out on the feed so other
	// instances apply them. Only the redis backend publishes.
	// Default: false
	Publish bool `yaml:"publish"`
}

// RedisFeedConfig contains Redis Streams feed configuration.
type RedisFeedConfig struct {
	// Address is the Redis server address.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is the optional Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// Stream is the stream key.
	// Default: "rules"
	Stream string `yaml:"stream"`

	// Group is the consumer group name.
	// Default: "rules-engine"
	Group string `yaml:"group"`

	// Consumer is this instance's consumer name. Defaults to the hostname.
	Consumer string `yaml:"consumer"`

	// Block is how long XREADGROUP blocks waiting for events.
	// Default: 5s
	Block time.Duration `yaml:"block"`

	// BatchSize is the maximum number of events read per call.
	// Default: 64
	BatchSize int64 `yaml:"batch_size"`
}

// SpoolConfig contains directory spool feed configuration.
type SpoolConfig struct {
	// Path is the directory watched for event files.
	// Default: "data/feed"
	Path string `yaml:"path"`

	// Debounce delays processing after a burst of file events.
	// Default: 200ms
	Debounce time.Duration `yaml:"debounce"`
}

// ReconcileConfig configures the periodic full reload.
type ReconcileConfig struct {
	// Enabled turns on periodic reconciliation.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression (standard five fields or descriptors
	// such as "@every 5m").
	// Default: "@every 5m"
	Schedule string `yaml:"schedule"`

	// Timeout bounds one reconciliation run.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// BootstrapConfig configures rules loaded at startup.
type BootstrapConfig struct {
	// RulesFile is a YAML or JSON rule document loaded into an empty store.
	RulesFile string `yaml:"rules_file"`

	// SeedSamples loads the built-in sample rules into an empty store.
	// Default: false
	SeedSamples bool `yaml:"seed_samples"`
}

// AuditConfig configures the decision audit trail.
type AuditConfig struct {
	// Enabled records a summary of every evaluation.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend is "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite configures the audit database. It is separate from the rule
	// store so pruning never contends with rule writes.
	// Default path: "data/audit.db"
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Buffer is the number of records queued for writing. Records are
	// dropped, not blocked on, when the queue is full.
	// Default: 1024
	Buffer int `yaml:"buffer"`

	// Retention is how long records are kept. Zero keeps them forever.
	// Default: 720h
	Retention time.Duration `yaml:"retention"`

	// MaxRecords caps the number of stored records. Zero is unlimited.
	MaxRecords int64 `yaml:"max_records"`

	// PruneSchedule is the cron expression for retention pruning.
	// Default: "@every 1h"
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "mercator"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "rules"
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "mercator-rules"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

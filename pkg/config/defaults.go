package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = int64(1 << 20)
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute
	DefaultAuthHeader      = "Authorization"

	// Engine defaults
	DefaultCacheSize              = 10000
	DefaultMaxExpressionLength    = 1000
	DefaultMaxDepth               = 64
	DefaultPrevalidateExpressions = true
	DefaultRoutingMode            = "first_match"
	DefaultFraudMode              = "aggregate"
	DefaultPageSize               = 50
	DefaultMaxPageSize            = 1000

	// Store defaults
	DefaultStoreBackend       = "memory"
	DefaultStoreTimeout       = 5 * time.Second
	DefaultSQLitePath         = "data/rules.db"
	DefaultSQLiteDriver       = "sqlite"
	DefaultSQLiteBusyTimeout  = 5 * time.Second
	DefaultSQLiteMaxOpenConns = 4
	DefaultRedisAddress       = "localhost:6379"
	DefaultRedisKeyPrefix     = "rule:"
	DefaultRedisDialTimeout   = 5 * time.Second

	// Feed defaults
	DefaultFeedBackend    = "none"
	DefaultFeedStream     = "rules"
	DefaultFeedGroup      = "rules-engine"
	DefaultFeedBlock      = 5 * time.Second
	DefaultFeedBatchSize  = int64(64)
	DefaultSpoolPath      = "data/feed"
	DefaultSpoolDebounce  = 200 * time.Millisecond
	DefaultFeedConsumerID = "rules-engine-0"

	// Reconcile defaults
	DefaultReconcileSchedule = "@every 5m"
	DefaultReconcileTimeout  = 30 * time.Second

	// Audit defaults
	DefaultAuditBackend       = "memory"
	DefaultAuditSQLitePath    = "data/audit.db"
	DefaultAuditBuffer        = 1024
	DefaultAuditRetention     = 30 * 24 * time.Hour
	DefaultAuditPruneSchedule = "@every 1h"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "mercator"
	DefaultMetricsSubsystem   = "rules"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingService     = "mercator-rules"
	DefaultTracingInsecure    = true
	DefaultTracingTimeout     = 10 * time.Second
)

// Default returns a configuration with every default applied, including
// the cache size and the boolean fields that default to true. LoadConfig
// decodes YAML on top of it, so fields absent from the file keep their
// defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Engine.CacheSize = DefaultCacheSize
	cfg.Engine.PrevalidateExpressions = DefaultPrevalidateExpressions
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Insecure = DefaultTracingInsecure
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. Boolean
// fields are left alone because false cannot be told apart from unset;
// use Default for a fully populated configuration.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}
	if cfg.Server.Auth.Header == "" {
		cfg.Server.Auth.Header = DefaultAuthHeader
	}

	// Engine defaults. A zero cache size is meaningful (caching disabled),
	// so only negative sizes are reset.
	if cfg.Engine.CacheSize < 0 {
		cfg.Engine.CacheSize = DefaultCacheSize
	}
	if cfg.Engine.MaxExpressionLength == 0 {
		cfg.Engine.MaxExpressionLength = DefaultMaxExpressionLength
	}
	if cfg.Engine.MaxDepth == 0 {
		cfg.Engine.MaxDepth = DefaultMaxDepth
	}
	if cfg.Engine.RoutingMode == "" {
		cfg.Engine.RoutingMode = DefaultRoutingMode
	}
	if cfg.Engine.FraudMode == "" {
		cfg.Engine.FraudMode = DefaultFraudMode
	}
	if cfg.Engine.DefaultPageSize == 0 {
		cfg.Engine.DefaultPageSize = DefaultPageSize
	}
	if cfg.Engine.MaxPageSize == 0 {
		cfg.Engine.MaxPageSize = DefaultMaxPageSize
	}

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.Audit.SQLite.Driver == "" {
		cfg.Audit.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Audit.SQLite.MaxOpenConns == 0 {
		cfg.Audit.SQLite.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if cfg.Audit.Buffer == 0 {
		cfg.Audit.Buffer = DefaultAuditBuffer
	}
	if cfg.Audit.Retention == 0 {
		cfg.Audit.Retention = DefaultAuditRetention
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = DefaultAuditPruneSchedule
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = DefaultStoreTimeout
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Store.SQLite.Driver == "" {
		cfg.Store.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Store.SQLite.MaxOpenConns == 0 {
		cfg.Store.SQLite.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if cfg.Store.Redis.Address == "" {
		cfg.Store.Redis.Address = DefaultRedisAddress
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Store.Redis.DialTimeout == 0 {
		cfg.Store.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	// Feed defaults
	if cfg.Feed.Backend == "" {
		cfg.Feed.Backend = DefaultFeedBackend
	}
	if cfg.Feed.Redis.Address == "" {
		cfg.Feed.Redis.Address = DefaultRedisAddress
	}
	if cfg.Feed.Redis.Stream == "" {
		cfg.Feed.Redis.Stream = DefaultFeedStream
	}
	if cfg.Feed.Redis.Group == "" {
		cfg.Feed.Redis.Group = DefaultFeedGroup
	}
	if cfg.Feed.Redis.Consumer == "" {
		cfg.Feed.Redis.Consumer = DefaultFeedConsumerID
	}
	if cfg.Feed.Redis.Block == 0 {
		cfg.Feed.Redis.Block = DefaultFeedBlock
	}
	if cfg.Feed.Redis.BatchSize == 0 {
		cfg.Feed.Redis.BatchSize = DefaultFeedBatchSize
	}
	if cfg.Feed.Spool.Path == "" {
		cfg.Feed.Spool.Path = DefaultSpoolPath
	}
	if cfg.Feed.Spool.Debounce == 0 {
		cfg.Feed.Spool.Debounce = DefaultSpoolDebounce
	}

	// Reconcile defaults
	if cfg.Reconcile.Schedule == "" {
		cfg.Reconcile.Schedule = DefaultReconcileSchedule
	}
	if cfg.Reconcile.Timeout == 0 {
		cfg.Reconcile.Timeout = DefaultReconcileTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}

// Package config provides configuration management for the rules service.
//
// Configuration is read from a YAML file, decoded over the built-in
// defaults, overridden by environment variables and validated. Every
// validation problem is collected into a single ValidationError.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("rules.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("rules.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RULES_SECTION_FIELD:
//
//   - RULES_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - RULES_ENGINE_FRAUD_MODE overrides engine.fraud_mode
//   - RULES_STORE_SQLITE_PATH overrides store.sqlite.path
//   - RULES_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// A malformed override (for example a duration that does not parse) is a
// validation error, not a silent no-op.
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	engine:
//	  cache_size: 10000
//	  routing_mode: first_match
//	  fraud_mode: aggregate
//
//	store:
//	  backend: sqlite
//	  sqlite:
//	    path: /var/lib/rules/rules.db
//
//	feed:
//	  backend: redis
//	  redis:
//	    address: redis:6379
//	    stream: rules
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config

package pipeline

import "fmt"

// RoutingMode determines how many routing rules may match per evaluation.
type RoutingMode string

const (
	// RoutingFirstMatch stops at the first matching rule in priority order.
	// This is the default.
	RoutingFirstMatch RoutingMode = "first_match"

	// RoutingAllMatches evaluates every routing rule and reports each match.
	// The summary orders processors by descending rule weight.
	RoutingAllMatches RoutingMode = "all_matches"
)

// FraudMode determines when fraud evaluation stops.
type FraudMode string

const (
	// FraudAggregate evaluates every fraud rule and surfaces the most severe
	// triggered action. This is the default.
	FraudAggregate FraudMode = "aggregate"

	// FraudFirstMatch stops after the first rule whose threshold is reached.
	FraudFirstMatch FraudMode = "first_match"
)

// Config contains configuration for the evaluation pipeline. It is fixed
// when the pipeline is created.
type Config struct {
	// RoutingMode selects first-match or all-matches routing.
	// Default: RoutingFirstMatch.
	RoutingMode RoutingMode

	// FraudMode selects aggregate or first-match fraud scoring.
	// Default: FraudAggregate.
	FraudMode FraudMode
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		RoutingMode: RoutingFirstMatch,
		FraudMode:   FraudAggregate,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.RoutingMode {
	case RoutingFirstMatch, RoutingAllMatches:
	default:
		return fmt.Errorf("invalid routing mode: %q", c.RoutingMode)
	}
	switch c.FraudMode {
	case FraudAggregate, FraudFirstMatch:
	default:
		return fmt.Errorf("invalid fraud mode: %q", c.FraudMode)
	}
	return nil
}

// Rules is a transfer rules engine: it evaluates money-transfer
// transactions against a hot-reloadable set of routing, fraud,
// compliance and business rules.
//
// Usage:
//
//	# Start the server with the default configuration
//	rules run
//
//	# Start with a configuration file
//	rules run --config /etc/rules/config.yaml
//
//	# Check a rule document
//	rules validate --file rules.yaml
//
//	# Evaluate a transaction against a rule document
//	rules eval --file rules.yaml --txn '{"amount": 12000, "payment_method": "card"}'
//
//	# Load rules into the configured store
//	rules seed --file rules.yaml
//
//	# Publish rule changes on the configured feed
//	rules push --file rules.yaml
package main

import (
	"os"

	"mercator-hq/rules/pkg/cli"
)

func main() {
	os.Exit(cli.ExitCode(Execute()))
}

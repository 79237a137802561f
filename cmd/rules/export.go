package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/rules/pkg/cli"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"
)

var exportFlags struct {
	samples bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print stored rules as a rule document",
	Long: `Print every rule in the configured store as a rule document that
validate, seed and push accept. Text output is YAML.

Examples:
  # Back up a Redis store
  rules export --config redis.yaml > backup.yaml

  # Start a new document from the samples
  rules export --samples > rules.yaml`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().BoolVar(&exportFlags.samples, "samples", false, "export the built-in sample rules instead of the store")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}

	var rs []*rules.Rule
	if exportFlags.samples {
		rs, err = sourceRules(cfg, "", true)
	} else {
		rs, err = loadRules(cmd.Context(), cfg, "")
	}
	if err != nil {
		return cli.NewCommandError("export", err)
	}
	store.SortByID(rs)

	if format == cli.FormatJSON {
		doc := rules.Document{Rules: make([]rules.RuleDocument, 0, len(rs))}
		for _, r := range rs {
			doc.Rules = append(doc.Rules, rules.DocumentFromRule(r))
		}
		return (&cli.JSONFormatter{Indent: true}).FormatTo(cmd.OutOrStdout(), doc)
	}
	b, err := rules.EncodeYAML(rs)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}

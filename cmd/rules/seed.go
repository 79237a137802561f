package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/rules/pkg/cli"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"
)

var seedFlags struct {
	file    string
	samples bool
	quiet   bool
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write rules into the configured store",
	Long: `Validate rules and write them into the configured store. Existing rules
with the same id are replaced. A running server picks the rules up on its
next reconciliation.

Examples:
  # Seed the built-in sample rules into a SQLite store
  rules seed --samples --config sqlite.yaml

  # Seed a document
  rules seed --file rules.yaml`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVarP(&seedFlags.file, "file", "f", "", "rule document to seed")
	seedCmd.Flags().BoolVar(&seedFlags.samples, "samples", false, "seed the built-in sample rules")
	seedCmd.Flags().BoolVarP(&seedFlags.quiet, "quiet", "q", false, "do not report progress")
	seedCmd.MarkFlagsMutuallyExclusive("file", "samples")
	seedCmd.MarkFlagsOneRequired("file", "samples")
}

// sourceRules returns the rules named by --file or --samples, validated
// against cfg.
func sourceRules(cfg *config.Config, file string, samples bool) ([]*rules.Rule, error) {
	var rs []*rules.Rule
	if samples {
		rs = rules.Samples(time.Now())
	} else {
		var err error
		if rs, err = rules.LoadFile(file); err != nil {
			return nil, err
		}
	}

	v := newValidator(cfg)
	var errs rules.ErrorList
	for _, r := range rs {
		r.ApplyDefaults(time.Now())
		errs.Add(v.Validate(r))
	}
	if err := errs.ToError(); err != nil {
		return nil, err
	}
	return rs, nil
}

// seedStore saves rs into st, reporting each rule to progress. It stops at
// the first unavailable error.
func seedStore(ctx context.Context, st store.Backend, rs []*rules.Rule, timeout time.Duration, progress cli.ProgressReporter) (int, error) {
	progress.Start(int64(len(rs)))
	defer progress.Finish()

	saved := 0
	for _, r := range rs {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := st.Save(sctx, r)
		cancel()
		if err != nil {
			progress.Fail(fmt.Errorf("rule %s: %w", r.ID, err))
			if store.IsUnavailable(err) || errors.Is(err, context.Canceled) {
				return saved, err
			}
			continue
		}
		saved++
		progress.Increment()
	}
	return saved, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rs, err := sourceRules(cfg, seedFlags.file, seedFlags.samples)
	if err != nil {
		return cli.NewCommandError("seed", err)
	}

	st, err := openStore(cmd.Context(), &cfg.Store)
	if err != nil {
		return cli.NewCommandError("seed", err)
	}
	defer st.Close()

	w := cmd.ErrOrStderr()
	if seedFlags.quiet {
		w = io.Discard
	}
	saved, err := seedStore(cmd.Context(), st, rs, cfg.Store.Timeout, cli.NewProgressReporter(w, "rules"))
	if err != nil {
		return cli.NewCommandError("seed", err)
	}
	if saved < len(rs) {
		return cli.NewCommandError("seed", fmt.Errorf("%d of %d rules were not saved", len(rs)-saved, len(rs)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d rules written to the %s store\n", saved, cfg.Store.Backend)
	return nil
}

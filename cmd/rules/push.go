package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/rules/pkg/cli"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/feed"
	"mercator-hq/rules/pkg/feed/redisstream"
	"mercator-hq/rules/pkg/feed/spool"
	"mercator-hq/rules/pkg/rules"
)

var pushFlags struct {
	file       string
	samples    bool
	deletes    []string
	fullReload bool
	quiet      bool
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish rule changes on the configured feed",
	Long: `Publish change events on the configured feed (redis or spool) so that
every running instance applies them.

By default each rule is published as an upsert. With --full-reload the
whole document replaces the live rule set in a single event.

Examples:
  # Upsert the rules of a document
  rules push --file rules.yaml

  # Replace the live rule set
  rules push --file rules.yaml --full-reload

  # Delete two rules
  rules push --delete r1 --delete r2`,
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().StringVarP(&pushFlags.file, "file", "f", "", "rule document to publish")
	pushCmd.Flags().BoolVar(&pushFlags.samples, "samples", false, "publish the built-in sample rules")
	pushCmd.Flags().StringSliceVar(&pushFlags.deletes, "delete", nil, "rule id to delete, repeatable")
	pushCmd.Flags().BoolVar(&pushFlags.fullReload, "full-reload", false, "publish one full reload event instead of upserts")
	pushCmd.Flags().BoolVarP(&pushFlags.quiet, "quiet", "q", false, "do not report progress")
	pushCmd.MarkFlagsMutuallyExclusive("file", "samples")
	pushCmd.MarkFlagsMutuallyExclusive("full-reload", "delete")
	pushCmd.MarkFlagsOneRequired("file", "samples", "delete")
}

// newPublisher returns the publisher for the configured feed and a
// function releasing it.
func newPublisher(cfg *config.FeedConfig) (feed.Publisher, func() error, error) {
	switch cfg.Backend {
	case "redis":
		client := redisstream.NewClient(&cfg.Redis)
		return redisstream.NewPublisher(client, cfg.Redis.Stream), client.Close, nil
	case "spool":
		return spool.NewPublisher(cfg.Spool.Path), func() error { return nil }, nil
	default:
		return nil, nil, cli.NewConfigError("feed.backend", fmt.Sprintf("push needs a redis or spool feed, got %q", cfg.Backend))
	}
}

// changeEvents builds the events to publish. Upserts come before deletes.
func changeEvents(rs []*rules.Rule, deletes []string, fullReload bool) []feed.Event {
	if fullReload {
		return []feed.Event{feed.FullReload(0, rs)}
	}
	events := make([]feed.Event, 0, len(rs)+len(deletes))
	for _, r := range rs {
		events = append(events, feed.Upsert(0, r))
	}
	for _, id := range deletes {
		events = append(events, feed.Delete(0, id))
	}
	return events
}

// publishAll publishes events in order and stops at the first failure.
func publishAll(ctx context.Context, pub feed.Publisher, events []feed.Event, progress cli.ProgressReporter) error {
	progress.Start(int64(len(events)))
	defer progress.Finish()

	for _, e := range events {
		if err := pub.Publish(ctx, e); err != nil {
			progress.Fail(err)
			return err
		}
		progress.Increment()
	}
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var rs []*rules.Rule
	if pushFlags.file != "" || pushFlags.samples {
		if rs, err = sourceRules(cfg, pushFlags.file, pushFlags.samples); err != nil {
			return cli.NewCommandError("push", err)
		}
	}

	pub, release, err := newPublisher(&cfg.Feed)
	if err != nil {
		return err
	}
	defer release()

	w := cmd.ErrOrStderr()
	if pushFlags.quiet {
		w = io.Discard
	}
	events := changeEvents(rs, pushFlags.deletes, pushFlags.fullReload)
	if err := publishAll(cmd.Context(), pub, events, cli.NewProgressReporter(w, "events")); err != nil {
		return cli.NewCommandError("push", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d events published on the %s feed\n", len(events), cfg.Feed.Backend)
	return nil
}

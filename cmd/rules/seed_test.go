package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/rules/pkg/cli"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/feed"
	"mercator-hq/rules/pkg/feed/spool"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"
)

func TestSourceRules(t *testing.T) {
	cfg := config.Default()

	rs, err := sourceRules(cfg, "", true)
	if err != nil {
		t.Fatalf("sourceRules(samples) error = %v", err)
	}
	if len(rs) != len(rules.Samples(time.Now())) {
		t.Errorf("got %d sample rules", len(rs))
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := "rules:\n  - id: r1\n    business:\n      name: n\n      condition: \"amount >\"\n      action: a\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := sourceRules(cfg, path, false); err == nil {
		t.Error("expected validation error for a malformed expression")
	}
}

func TestSeedStore(t *testing.T) {
	st := store.NewMemoryBackend()
	rs := rules.Samples(sampleTime)

	saved, err := seedStore(context.Background(), st, rs, time.Second, cli.NewProgressReporter(io.Discard, "rules"))
	if err != nil {
		t.Fatalf("seedStore() error = %v", err)
	}
	if saved != len(rs) || st.Len() != len(rs) {
		t.Errorf("saved = %d, store holds %d, want %d", saved, st.Len(), len(rs))
	}
}

func TestSeedStore_Unavailable(t *testing.T) {
	st := store.NewMemoryBackend()
	st.FailWith(errors.New("down"))
	progress := cli.NewProgressReporter(io.Discard, "rules")

	saved, err := seedStore(context.Background(), st, rules.Samples(sampleTime), time.Second, progress)
	if !store.IsUnavailable(err) {
		t.Fatalf("seedStore() error = %v, want unavailable", err)
	}
	if saved != 0 {
		t.Errorf("saved = %d, want 0", saved)
	}
	if _, failed := progress.Counts(); failed != 1 {
		t.Errorf("failed = %d, want 1 (stop at first unavailable error)", failed)
	}
}

func TestChangeEvents(t *testing.T) {
	rs := rules.Samples(sampleTime)[:2]

	events := changeEvents(rs, []string{"gone"}, false)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != feed.EventUpsert || events[2].Type != feed.EventDelete || events[2].RuleID != "gone" {
		t.Errorf("events = %+v", events)
	}

	events = changeEvents(rs, nil, true)
	if len(events) != 1 || events[0].Type != feed.EventFullReload || len(events[0].Rules) != 2 {
		t.Errorf("full reload events = %+v", events)
	}
}

func TestNewPublisher(t *testing.T) {
	if _, _, err := newPublisher(&config.FeedConfig{Backend: "none"}); cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("newPublisher(none) error = %v, want config error", err)
	}

	dir := t.TempDir()
	pub, release, err := newPublisher(&config.FeedConfig{Backend: "spool", Spool: config.SpoolConfig{Path: dir}})
	if err != nil {
		t.Fatalf("newPublisher(spool) error = %v", err)
	}
	defer release()

	events := changeEvents(rules.Samples(sampleTime), nil, false)
	if err := publishAll(context.Background(), pub, events, cli.NewProgressReporter(io.Discard, "events")); err != nil {
		t.Fatalf("publishAll() error = %v", err)
	}
	pending, err := spool.New(&config.SpoolConfig{Path: dir}, nil).Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != len(events) {
		t.Errorf("spool holds %d files, want %d", len(pending), len(events))
	}
}

package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"

	"github.com/google/uuid"
)

func TestBackend_Keys(t *testing.T) {
	tests := []struct {
		prefix string
		id     string
		key    string
	}{
		{"", "abc", "rule:abc"},
		{"tenant1:rule:", "abc", "tenant1:rule:abc"},
	}
	for _, tt := range tests {
		b := NewWithClient(nil, tt.prefix)
		if got := b.Key(tt.id); got != tt.key {
			t.Errorf("Key(%q) = %q, want %q", tt.id, got, tt.key)
		}
		if id, ok := b.ID(tt.key); !ok || id != tt.id {
			t.Errorf("ID(%q) = %q, %v; want %q, true", tt.key, id, ok, tt.id)
		}
	}

	b := NewWithClient(nil, "")
	for _, key := range []string{"other:abc", "rule:"} {
		if _, ok := b.ID(key); ok {
			t.Errorf("ID(%q) should not match", key)
		}
	}
}

func TestBackend_ClosedReportsUnavailable(t *testing.T) {
	b := New(&config.RedisConfig{Address: "127.0.0.1:1"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	err := b.Ping(context.Background())
	if !errors.Is(err, store.ErrClosed) || !store.IsUnavailable(err) {
		t.Errorf("Ping() after Close = %v, want unavailable ErrClosed", err)
	}
}

// TestBackend_Integration runs against a real server when
// RULES_TEST_REDIS_ADDR is set.
func TestBackend_Integration(t *testing.T) {
	addr := os.Getenv("RULES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RULES_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "test:" + uuid.NewString() + ":"
	b := New(&config.RedisConfig{Address: addr, KeyPrefix: prefix})
	defer b.Close()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	samples := rules.Samples(time.Now())
	for _, r := range samples {
		if err := b.Save(ctx, r); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	t.Cleanup(func() {
		for _, r := range samples {
			b.Delete(context.Background(), r.ID)
		}
	})

	loaded, err := b.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != len(samples) {
		t.Fatalf("loaded %d rules, want %d", len(loaded), len(samples))
	}

	if err := b.Delete(ctx, samples[0].ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	loaded, err = b.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != len(samples)-1 {
		t.Errorf("loaded %d rules after delete, want %d", len(loaded), len(samples)-1)
	}
}

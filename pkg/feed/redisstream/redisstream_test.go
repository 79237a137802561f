package redisstream

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/feed"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/telemetry/logging"

	"github.com/google/uuid"
)

func TestPayload(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   string
	}{
		{"string", map[string]any{FieldEvent: "abc"}, "abc"},
		{"bytes", map[string]any{FieldEvent: []byte("xyz")}, "xyz"},
		{"missing", map[string]any{"other": "abc"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Payload(goredis.XMessage{ID: "1-0", Values: tt.values})
			if string(got) != tt.want {
				t.Errorf("Payload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewSource_Defaults(t *testing.T) {
	s := NewSource(nil, &config.RedisFeedConfig{Consumer: "c1"}, logging.Discard())
	if s.stream != config.DefaultFeedStream || s.group != config.DefaultFeedGroup {
		t.Errorf("stream/group = %s/%s", s.stream, s.group)
	}
	if s.consumer != "c1" || s.block != config.DefaultFeedBlock || s.count != config.DefaultFeedBatchSize {
		t.Errorf("unexpected source settings: %+v", s)
	}
	if NewSource(nil, nil, nil).consumer == "" {
		t.Error("consumer name should default to hostname or fixed id")
	}
}

func TestSequenceKey(t *testing.T) {
	if got := SequenceKey("rules"); got != "rules:seq" {
		t.Errorf("SequenceKey() = %q", got)
	}
	if p := NewPublisher(nil, ""); p.stream != config.DefaultFeedStream {
		t.Errorf("default stream = %q", p.stream)
	}
}

// TestIntegration runs a publisher and consumer against a real server
// when RULES_TEST_REDIS_ADDR is set.
func TestIntegration(t *testing.T) {
	addr := os.Getenv("RULES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RULES_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stream := "test-rules-" + uuid.NewString()
	client := NewClient(&config.RedisFeedConfig{Address: addr})
	defer client.Close()
	t.Cleanup(func() {
		client.Del(context.Background(), stream, SequenceKey(stream))
	})

	pub := NewPublisher(client, stream)
	samples := rules.Samples(time.Now())
	for _, r := range samples[:2] {
		if err := pub.Publish(ctx, feed.Upsert(0, r)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := pub.Publish(ctx, feed.Delete(0, samples[0].ID)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	reg := registry.New(registry.Config{Logger: logging.Discard()})
	consumer, err := feed.NewConsumer(feed.ConsumerConfig{Registry: reg, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	src := NewSource(client, &config.RedisFeedConfig{
		Stream:   stream,
		Consumer: "test",
		Block:    100 * time.Millisecond,
	}, logging.Discard())

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		consumer.Run(runCtx, src)
		close(done)
	}()

	for consumer.Stats().LastSequence < 3 {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out; stats = %+v", consumer.Stats())
		case <-time.After(20 * time.Millisecond):
		}
	}
	stop()
	<-done

	if reg.Snapshot().Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Snapshot().Len())
	}
	pending, err := client.XPending(ctx, stream, config.DefaultFeedGroup).Result()
	if err != nil {
		t.Fatalf("XPending() error = %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0", pending.Count)
	}
}

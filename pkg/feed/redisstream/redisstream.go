// Package redisstream carries change events on a Redis stream.
//
// Events are stored in the "event" field of each stream entry. Source
// reads through a consumer group (XREADGROUP) and acks with XACK, so each
// engine instance should use its own group to see every event. Publisher
// appends entries with XADD, assigning sequence numbers atomically from a
// counter key.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/feed"
)

// FieldEvent is the stream entry field holding the encoded event.
const FieldEvent = "event"

// retryDelay is the pause after a failed read.
const retryDelay = time.Second

// NewClient creates a client for cfg.
func NewClient(cfg *config.RedisFeedConfig) *goredis.Client {
	addr := cfg.Address
	if addr == "" {
		addr = config.DefaultRedisAddress
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Source reads change events from a stream through a consumer group.
type Source struct {
	client   goredis.UniversalClient
	stream   string
	group    string
	consumer string
	block    time.Duration
	count    int64
	logger   *slog.Logger
}

// NewSource creates a source. Zero-valued settings in cfg take their
// defaults; an empty consumer name uses the hostname.
func NewSource(client goredis.UniversalClient, cfg *config.RedisFeedConfig, logger *slog.Logger) *Source {
	c := config.RedisFeedConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Stream == "" {
		c.Stream = config.DefaultFeedStream
	}
	if c.Group == "" {
		c.Group = config.DefaultFeedGroup
	}
	if c.Consumer == "" {
		c.Consumer = defaultConsumer()
	}
	if c.Block <= 0 {
		c.Block = config.DefaultFeedBlock
	}
	if c.BatchSize <= 0 {
		c.BatchSize = config.DefaultFeedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		client:   client,
		stream:   c.Stream,
		group:    c.Group,
		consumer: c.Consumer,
		block:    c.Block,
		count:    c.BatchSize,
		logger:   logger.With("stream", c.Stream, "group", c.Group),
	}
}

func defaultConsumer() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return config.DefaultFeedConsumerID
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (s *Source) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", s.group, s.stream, err)
	}
	return nil
}

// Messages creates the consumer group and starts reading. Entries left
// pending by a previous run of this consumer are redelivered first.
func (s *Source) Messages(ctx context.Context) (<-chan feed.Message, error) {
	if err := s.EnsureGroup(ctx); err != nil {
		return nil, err
	}
	out := make(chan feed.Message)
	go s.read(ctx, out)
	return out, nil
}

// Ping checks the connection.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Source) read(ctx context.Context, out chan<- feed.Message) {
	defer close(out)

	// "0" reads this consumer's pending entries; ">" reads new ones.
	cursor := "0"
	for ctx.Err() == nil {
		streams, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, cursor},
			Count:    s.count,
			Block:    s.block,
		}).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to read change feed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		n := 0
		for _, st := range streams {
			for _, xm := range st.Messages {
				n++
				select {
				case out <- s.message(xm):
				case <-ctx.Done():
					return
				}
			}
		}
		if cursor == "0" && n == 0 {
			cursor = ">"
		}
	}
}

func (s *Source) message(xm goredis.XMessage) feed.Message {
	id := xm.ID
	return feed.Message{
		Payload: Payload(xm),
		Offset:  id,
		Ack: func(ctx context.Context, _ error) error {
			return s.client.XAck(ctx, s.stream, s.group, id).Err()
		},
	}
}

// Payload extracts the encoded event from a stream entry. Entries without
// an event field yield an empty payload, which the consumer rejects.
func Payload(xm goredis.XMessage) []byte {
	switch v := xm.Values[FieldEvent].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// sequenceScript increments the counter and appends the new sequence as a
// trailing protobuf field 1 (varint). Later occurrences of a scalar field
// win, so the appended value overrides any sequence in the payload.
var sequenceScript = goredis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
local n = seq
local b = {string.char(8)}
while n >= 128 do
  table.insert(b, string.char(n % 128 + 128))
  n = math.floor(n / 128)
end
table.insert(b, string.char(n))
local id = redis.call('XADD', KEYS[1], '*', ARGV[1], ARGV[2] .. table.concat(b))
return {id, seq}
`)

// Publisher appends change events to a stream.
type Publisher struct {
	client goredis.UniversalClient
	stream string
	seqKey string
}

// NewPublisher creates a publisher for stream. An empty stream uses the
// default.
func NewPublisher(client goredis.UniversalClient, stream string) *Publisher {
	if stream == "" {
		stream = config.DefaultFeedStream
	}
	return &Publisher{client: client, stream: stream, seqKey: SequenceKey(stream)}
}

// SequenceKey returns the counter key used to number events on stream.
func SequenceKey(stream string) string {
	return stream + ":seq"
}

// Publish appends e. Events without a sequence number are assigned the
// next one atomically with the append.
func (p *Publisher) Publish(ctx context.Context, e feed.Event) error {
	_, err := p.PublishID(ctx, e)
	return err
}

// PublishID appends e and returns the stream entry id.
func (p *Publisher) PublishID(ctx context.Context, e feed.Event) (string, error) {
	b, err := feed.Marshal(e)
	if err != nil {
		return "", err
	}

	if e.Sequence != 0 {
		id, err := p.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{FieldEvent: b},
		}).Result()
		if err != nil {
			return "", fmt.Errorf("publish %s event: %w", e.Type, err)
		}
		return id, nil
	}

	res, err := sequenceScript.Run(ctx, p.client, []string{p.stream, p.seqKey}, FieldEvent, b).Slice()
	if err != nil {
		return "", fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("publish %s event: unexpected script reply %v", e.Type, res)
	}
	id, _ := res[0].(string)
	return id, nil
}

var (
	_ feed.Source    = (*Source)(nil)
	_ feed.Publisher = (*Publisher)(nil)
)

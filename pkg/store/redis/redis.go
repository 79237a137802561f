// Package redis implements a store.Backend on Redis. Each rule is kept
// under "<prefix><id>" holding its protobuf encoding.
package redis

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"

	goredis "github.com/redis/go-redis/v9"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 256

// Backend stores rules in Redis.
type Backend struct {
	client goredis.UniversalClient
	prefix string
	closed atomic.Bool
}

// New connects to the server described by cfg. A nil cfg uses the
// defaults. The connection is verified lazily; call Ping to check it.
func New(cfg *config.RedisConfig) *Backend {
	c := config.RedisConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Address == "" {
		c.Address = config.DefaultRedisAddress
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = config.DefaultRedisDialTimeout
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        c.Address,
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: c.DialTimeout,
	})
	return NewWithClient(client, c.KeyPrefix)
}

// NewWithClient wraps an existing client. An empty prefix uses the
// default.
func NewWithClient(client goredis.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = config.DefaultRedisKeyPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

// Key returns the Redis key holding the rule with id.
func (b *Backend) Key(id string) string {
	return b.prefix + id
}

// ID returns the rule id encoded in key, and false if key does not carry
// this backend's prefix.
func (b *Backend) ID(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, b.prefix)
	return id, ok && id != ""
}

func (b *Backend) check(op string) error {
	if b.closed.Load() {
		return store.Unavailable(store.BackendRedis, op, store.ErrClosed)
	}
	return nil
}

// LoadAll scans every key under the prefix and fetches the payloads in
// batches.
func (b *Backend) LoadAll(ctx context.Context) ([]*rules.Rule, error) {
	if err := b.check("load"); err != nil {
		return nil, err
	}

	payloads := make(map[string][]byte)
	iter := b.client.Scan(ctx, 0, b.prefix+"*", scanCount).Iterator()
	batch := make([]string, 0, scanCount)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vals, err := b.client.MGet(ctx, batch...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			if id, ok := b.ID(batch[i]); ok {
				payloads[id] = []byte(s)
			}
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := flush(); err != nil {
				return nil, store.Unavailable(store.BackendRedis, "load", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, store.Unavailable(store.BackendRedis, "load", err)
	}
	if err := flush(); err != nil {
		return nil, store.Unavailable(store.BackendRedis, "load", err)
	}
	return store.DecodeAll(payloads)
}

// Save writes r under its key.
func (b *Backend) Save(ctx context.Context, r *rules.Rule) error {
	if err := b.check("save"); err != nil {
		return err
	}
	payload, err := rules.Marshal(r)
	if err != nil {
		return err
	}
	return store.Unavailable(store.BackendRedis, "save", b.client.Set(ctx, b.Key(r.ID), payload, 0).Err())
}

// Delete removes the rule with id.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := b.check("delete"); err != nil {
		return err
	}
	return store.Unavailable(store.BackendRedis, "delete", b.client.Del(ctx, b.Key(id)).Err())
}

// Ping checks the connection.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.check("ping"); err != nil {
		return err
	}
	return store.Unavailable(store.BackendRedis, "ping", b.client.Ping(ctx).Err())
}

// Close closes the client. It is safe to call more than once.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)

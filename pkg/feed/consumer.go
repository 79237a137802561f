package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"
	"mercator-hq/rules/pkg/telemetry/tracing"
)

// ErrDuplicate is returned by Apply for an event whose sequence number has
// already been applied.
var ErrDuplicate = errors.New("duplicate change event")

// Rejection reasons reported to Metrics.
const (
	RejectDecode     = "decode"
	RejectValidation = "validation"
	RejectDuplicate  = "duplicate"
	RejectPanic      = "panic"
)

// DefaultStoreTimeout bounds each store write made while mirroring.
const DefaultStoreTimeout = 5 * time.Second

// Metrics receives consumer measurements.
type Metrics interface {
	EventApplied(eventType string, sequence uint64)
	EventRejected(reason string)
}

// Publisher sends change events to other engine instances.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// Registry receives applied events. Required.
	Registry *registry.Registry

	// Store, when set, mirrors every applied event.
	Store store.Backend

	// StoreTimeout bounds each mirrored write.
	// Default: 5s
	StoreTimeout time.Duration

	Metrics Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Stats is a point-in-time view of consumer progress.
type Stats struct {
	Applied      uint64 `json:"applied"`
	Rejected     uint64 `json:"rejected"`
	LastSequence uint64 `json:"last_sequence"`
	Running      bool   `json:"running"`
}

// Consumer applies change events to the registry. Run must not be called
// concurrently; the consumer is the registry's single writer.
type Consumer struct {
	registry     *registry.Registry
	store        store.Backend
	storeTimeout time.Duration
	metrics      Metrics
	tracer       trace.Tracer
	logger       *slog.Logger

	lastSeq  atomic.Uint64
	applied  atomic.Uint64
	rejected atomic.Uint64
	running  atomic.Bool
}

// NewConsumer creates a consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Registry == nil {
		return nil, errors.New("feed consumer: registry is required")
	}
	c := &Consumer{
		registry:     cfg.Registry,
		store:        cfg.Store,
		storeTimeout: cfg.StoreTimeout,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger,
	}
	if c.storeTimeout <= 0 {
		c.storeTimeout = DefaultStoreTimeout
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Run consumes src until ctx is done or the source closes its channel.
// It returns nil in both cases, and an error only if the source cannot be
// opened.
func (c *Consumer) Run(ctx context.Context, src Source) error {
	msgs, err := src.Messages(ctx)
	if err != nil {
		return fmt.Errorf("open feed source: %w", err)
	}

	c.running.Store(true)
	defer c.running.Store(false)
	c.logger.Info("feed consumer started", "last_sequence", c.lastSeq.Load())

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("feed consumer stopped", "reason", ctx.Err())
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("feed source closed")
				return nil
			}
			c.Handle(ctx, msg)
		}
	}
}

// Handle decodes, applies and acknowledges one message. Every message is
// acknowledged, including rejected ones. The returned error describes why
// the message was rejected, if it was.
func (c *Consumer) Handle(ctx context.Context, msg Message) error {
	err := c.handle(ctx, msg)
	result := err
	if errors.Is(err, ErrDuplicate) {
		result = nil
	}
	c.ack(ctx, msg, result)
	return err
}

func (c *Consumer) handle(ctx context.Context, msg Message) error {
	e, err := Unmarshal(msg.Payload)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Offset = msg.Offset
		}
		c.reject(RejectDecode)
		c.logger.Warn("skipping malformed change event",
			"offset", msg.Offset,
			"size", len(msg.Payload),
			"error", err,
		)
		return err
	}

	err = c.Apply(ctx, e)
	if err != nil && !errors.Is(err, ErrDuplicate) {
		c.logger.Warn("skipping rejected change event",
			"offset", msg.Offset,
			"type", e.Type.String(),
			"sequence", e.Sequence,
			"error", err,
		)
	}
	return err
}

func (c *Consumer) ack(ctx context.Context, msg Message, result error) {
	if msg.Ack == nil {
		return
	}
	if err := msg.Ack(ctx, result); err != nil {
		c.logger.Warn("failed to ack change event", "offset", msg.Offset, "error", err)
	}
}

// Apply applies a decoded event. Redelivered events return ErrDuplicate;
// events failing validation return the validation error and leave the
// registry unchanged. A panic while applying is recovered and returned.
func (c *Consumer) Apply(ctx context.Context, e Event) (err error) {
	ctx, span := c.tracer.Start(ctx, "feed.Apply")
	defer span.End()
	tracing.SetEventAttributes(span, e.Type.String(), e.Sequence)

	if e.Sequence != 0 && e.Sequence <= c.lastSeq.Load() {
		c.reject(RejectDuplicate)
		c.logger.Debug("skipping redelivered change event", "sequence", e.Sequence)
		return ErrDuplicate
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %s event: %v", e.Type, r)
			c.reject(RejectPanic)
		}
		if e.Sequence != 0 {
			c.lastSeq.Store(e.Sequence)
		}
		tracing.SetError(span, err)
	}()

	snap, err := c.apply(e)
	if err != nil {
		c.reject(RejectValidation)
		return err
	}

	c.applied.Add(1)
	if c.metrics != nil {
		c.metrics.EventApplied(e.Type.String(), e.Sequence)
	}
	if snap != nil {
		tracing.SetSnapshotAttributes(span, snap.Version, snap.Digest)
	}

	if c.store != nil {
		if err := c.mirror(ctx, e); err != nil {
			c.logger.Warn("failed to mirror change event to store",
				"type", e.Type.String(),
				"sequence", e.Sequence,
				"error", err,
			)
		}
	}
	return nil
}

func (c *Consumer) apply(e Event) (*registry.Snapshot, error) {
	switch e.Type {
	case EventUpsert:
		return c.registry.Upsert(e.Rule)
	case EventDelete:
		snap, err := c.registry.Delete(e.RuleID)
		var nf *registry.NotFoundError
		if errors.As(err, &nf) {
			// already absent
			return c.registry.Snapshot(), nil
		}
		return snap, err
	case EventFullReload:
		return c.registry.Replace(e.Rules)
	default:
		return nil, fmt.Errorf("unknown event type %v", e.Type)
	}
}

func (c *Consumer) mirror(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	switch e.Type {
	case EventUpsert:
		return c.store.Save(ctx, e.Rule)
	case EventDelete:
		return c.store.Delete(ctx, e.RuleID)
	case EventFullReload:
		return MirrorRuleSet(ctx, c.store, e.Rules)
	}
	return nil
}

// MirrorRuleSet makes the store hold exactly rs: rules missing from rs are
// deleted and every rule in rs is saved.
func MirrorRuleSet(ctx context.Context, b store.Backend, rs []*rules.Rule) error {
	existing, err := b.LoadAll(ctx)
	if err != nil && store.IsUnavailable(err) {
		return err
	}
	keep := make(map[string]bool, len(rs))
	for _, r := range rs {
		keep[r.ID] = true
	}
	for _, r := range existing {
		if !keep[r.ID] {
			if err := b.Delete(ctx, r.ID); err != nil {
				return err
			}
		}
	}
	for _, r := range rs {
		if err := b.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) reject(reason string) {
	c.rejected.Add(1)
	if c.metrics != nil {
		c.metrics.EventRejected(reason)
	}
}

// Stats returns consumer progress counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Applied:      c.applied.Load(),
		Rejected:     c.rejected.Load(),
		LastSequence: c.lastSeq.Load(),
		Running:      c.running.Load(),
	}
}

// Running reports whether Run is consuming a source.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Package service is the administrative and evaluation façade used by the
// transports.
//
// Writes are validated, persisted to the store, applied to the registry
// and then fanned out on the change feed. A store failure rejects the
// write and leaves the registry on its current snapshot.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/rules/pkg/audit"
	"mercator-hq/rules/pkg/feed"
	"mercator-hq/rules/pkg/pipeline"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/store"
	"mercator-hq/rules/pkg/telemetry/logging"
)

// DefaultStoreTimeout bounds each store call.
const DefaultStoreTimeout = 5 * time.Second

// ConflictError is returned when creating a rule whose id already exists.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rule %q already exists", e.ID)
}

// Config configures a Service.
type Config struct {
	// Registry holds the live rule set. Required.
	Registry *registry.Registry

	// Pipeline evaluates transactions. Required.
	Pipeline *pipeline.Pipeline

	// Store persists rules. Defaults to an in-memory backend.
	Store store.Backend

	// Publisher, when set, receives every administrative change.
	Publisher feed.Publisher

	// Auditor, when set, receives a summary of every evaluation.
	Auditor Auditor

	// StoreTimeout bounds each store call.
	// Default: 5s
	StoreTimeout time.Duration

	Logger *slog.Logger

	// Now is the clock used for rule timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Auditor records evaluation summaries without blocking.
type Auditor interface {
	Record(r *audit.Record) bool
}

// Service implements rule administration and evaluation.
type Service struct {
	// writeMu serializes administrative writes and reloads so an existence
	// check and the write that depends on it see the same registry state.
	writeMu sync.Mutex

	registry     *registry.Registry
	pipeline     *pipeline.Pipeline
	store        store.Backend
	publisher    feed.Publisher
	auditor      Auditor
	storeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a service.
func New(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("service: registry is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("service: pipeline is required")
	}
	s := &Service{
		registry:     cfg.Registry,
		pipeline:     cfg.Pipeline,
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		auditor:      cfg.Auditor,
		storeTimeout: cfg.StoreTimeout,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if s.store == nil {
		s.store = store.NewMemoryBackend()
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = DefaultStoreTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Create admits a new rule. An empty id is generated. The stored copy is
// returned.
func (s *Service) Create(ctx context.Context, r *rules.Rule) (*rules.Rule, error) {
	if r == nil {
		return nil, s.registry.Validator().Validate(nil)
	}
	rule := r.Clone()
	now := s.now().UTC()
	rule.CreatedAt = time.Time{}
	rule.LastModified = time.Time{}
	rule.ApplyDefaults(now)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, exists := s.registry.Get(rule.ID); exists {
		return nil, &ConflictError{ID: rule.ID}
	}
	if err := s.write(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "rule created", "rule_id", rule.ID, "kind", rule.Kind())
	return rule.Clone(), nil
}

// Get returns the rule with id or a *registry.NotFoundError.
func (s *Service) Get(id string) (*rules.Rule, error) {
	rule, ok := s.registry.Get(id)
	if !ok {
		return nil, &registry.NotFoundError{ID: id}
	}
	return rule, nil
}

// Update replaces the rule with id. Creation metadata is kept from the
// stored rule unless r sets it; LastModified is always refreshed.
func (s *Service) Update(ctx context.Context, id string, r *rules.Rule) (*rules.Rule, error) {
	if r == nil {
		return nil, s.registry.Validator().Validate(nil)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev, ok := s.registry.Get(id)
	if !ok {
		return nil, &registry.NotFoundError{ID: id}
	}

	rule := r.Clone()
	rule.ID = id
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = prev.CreatedAt
	}
	if rule.CreatedBy == "" {
		rule.CreatedBy = prev.CreatedBy
	}
	rule.LastModified = s.now().UTC()
	rule.ApplyDefaults(rule.LastModified)

	if err := s.write(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "rule updated", "rule_id", rule.ID, "kind", rule.Kind())
	return rule.Clone(), nil
}

// write validates, persists, applies and publishes rule.
func (s *Service) write(ctx context.Context, rule *rules.Rule) error {
	if err := s.registry.Validator().Validate(rule); err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err := s.store.Save(sctx, rule)
	cancel()
	if err != nil {
		return err
	}

	if _, err := s.registry.Upsert(rule); err != nil {
		return err
	}
	s.publish(ctx, feed.Upsert(0, rule))
	return nil
}

// Delete removes the rule with id or returns a *registry.NotFoundError.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.registry.Get(id); !ok {
		return &registry.NotFoundError{ID: id}
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err := s.store.Delete(sctx, id)
	cancel()
	if err != nil {
		return err
	}

	if _, err := s.registry.Delete(id); err != nil {
		return err
	}
	s.publish(ctx, feed.Delete(0, id))
	s.logger.InfoContext(ctx, "rule deleted", "rule_id", id)
	return nil
}

func (s *Service) publish(ctx context.Context, e feed.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to publish rule change",
			"type", e.Type.String(),
			"error", err,
		)
	}
}

// List returns one page of rules.
func (s *Service) List(opts registry.ListOptions) registry.ListResult {
	return s.registry.List(opts)
}

// Evaluate runs the pipeline against txn.
func (s *Service) Evaluate(ctx context.Context, txn map[string]any, kinds ...rules.Kind) (*pipeline.Decision, error) {
	d, err := s.pipeline.Evaluate(ctx, txn, kinds...)
	if err != nil {
		return nil, err
	}
	if s.auditor != nil {
		rec := audit.NewRecord(txn, kinds, d)
		rec.RequestID = logging.GetRequestID(ctx)
		s.auditor.Record(rec)
	}
	return d, nil
}

// Health returns the pipeline health summary.
func (s *Service) Health() pipeline.Health {
	return s.pipeline.Health()
}

// RuleStats returns per-rule execution statistics.
func (s *Service) RuleStats() []pipeline.RuleStats {
	return s.pipeline.RuleStats()
}

// Reload replaces the registry contents with the store's. Corrupt records
// are logged and skipped. On a backend failure the registry keeps its
// current snapshot and the *store.UnavailableError is returned.
func (s *Service) Reload(ctx context.Context) (*registry.Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	rs, err := s.store.LoadAll(sctx)
	cancel()
	if err != nil {
		if store.IsUnavailable(err) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "skipping corrupt stored rules", "error", err)
	}

	snap, err := s.registry.Replace(rs)
	if err != nil {
		return nil, fmt.Errorf("reload rules: %w", err)
	}
	return snap, nil
}

// Bootstrap saves rs into the store when it holds no rules, then reloads
// the registry from the store. It reports whether rs was written.
func (s *Service) Bootstrap(ctx context.Context, rs []*rules.Rule) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	existing, err := s.store.LoadAll(sctx)
	if err != nil && store.IsUnavailable(err) {
		return false, err
	}

	seeded := false
	if len(existing) == 0 && len(rs) > 0 {
		validator := s.registry.Validator()
		for _, r := range rs {
			if err := validator.Validate(r); err != nil {
				return false, err
			}
		}
		for _, r := range rs {
			if err := s.store.Save(sctx, r); err != nil {
				return false, err
			}
		}
		seeded = true
		s.logger.InfoContext(ctx, "store seeded", "rules", len(rs))
	}

	if _, err := s.Reload(ctx); err != nil {
		return seeded, err
	}
	return seeded, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Store returns the backing store.
func (s *Service) Store() store.Backend {
	return s.store
}

// Package registry holds the live rule set.
//
// The registry publishes immutable snapshots through an atomic pointer.
// Evaluations load the current snapshot without locking; writers serialize
// on a mutex, derive a new snapshot that rebuilds only the kind indexes
// they touched, and swap it in. A failed write leaves the previous
// snapshot in place.
package registry

import (
	"bytes"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"mercator-hq/rules/pkg/rules"
)

// Default pagination limits.
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// Config configures a Registry.
type Config struct {
	// Validator admits rules. Defaults to structural validation only.
	Validator *rules.Validator

	// DefaultPageSize is used by List when no page size is requested.
	DefaultPageSize int

	// MaxPageSize caps the page size accepted by List.
	MaxPageSize int

	// OnPublish is called after every new snapshot is published, under the
	// writer lock. It must not call back into the registry's write methods.
	OnPublish func(*Snapshot)

	// Logger receives debug logs for published changes.
	Logger *slog.Logger
}

// Registry is the concurrently readable, serially writable rule store.
type Registry struct {
	current atomic.Pointer[Snapshot]

	// mu serializes writers
	mu sync.Mutex

	validator       *rules.Validator
	defaultPageSize int
	maxPageSize     int
	onPublish       func(*Snapshot)
	logger          *slog.Logger
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	r := &Registry{
		validator:       cfg.Validator,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		onPublish:       cfg.OnPublish,
		logger:          cfg.Logger,
	}
	if r.validator == nil {
		r.validator = &rules.Validator{MaxExpressionLength: rules.DefaultMaxExpressionLength}
	}
	if r.defaultPageSize <= 0 {
		r.defaultPageSize = DefaultPageSize
	}
	if r.maxPageSize <= 0 {
		r.maxPageSize = MaxPageSize
	}
	if r.defaultPageSize > r.maxPageSize {
		r.defaultPageSize = r.maxPageSize
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.current.Store(emptySnapshot())
	return r
}

// Snapshot returns the current snapshot. It never blocks.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Validator returns the validator used to admit rules.
func (r *Registry) Validator() *rules.Validator {
	return r.validator
}

// Get returns a copy of the rule with id.
func (r *Registry) Get(id string) (*rules.Rule, bool) {
	rule, ok := r.Snapshot().Get(id)
	if !ok {
		return nil, false
	}
	return rule.Clone(), true
}

// Upsert validates rule and inserts or replaces it. Upserting a rule
// identical to the stored one is a no-op that returns the current snapshot.
func (r *Registry) Upsert(rule *rules.Rule) (*Snapshot, error) {
	if err := r.validator.Validate(rule); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	prev, exists := cur.byID[rule.ID]
	if exists && sameRule(prev, rule) {
		return cur, nil
	}

	stored := rule.Clone()
	byID := maps.Clone(cur.byID)
	byID[stored.ID] = stored

	touched := []rules.Kind{stored.Kind()}
	if exists && prev.Kind() != stored.Kind() {
		touched = append(touched, prev.Kind())
	}

	next := cur.derive(byID, touched...)
	r.publish(next)
	r.logger.Debug("rule upserted",
		"rule_id", stored.ID,
		"kind", stored.Kind(),
		"version", next.Version,
	)
	return next, nil
}

// Delete removes the rule with id, or returns *NotFoundError.
func (r *Registry) Delete(id string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	prev, ok := cur.byID[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	byID := maps.Clone(cur.byID)
	delete(byID, id)

	next := cur.derive(byID, prev.Kind())
	r.publish(next)
	r.logger.Debug("rule deleted", "rule_id", id, "version", next.Version)
	return next, nil
}

// Replace swaps the entire rule set. Every rule is validated first; if any
// fails, or ids repeat, nothing changes and all problems are reported.
func (r *Registry) Replace(rs []*rules.Rule) (*Snapshot, error) {
	var errs rules.ErrorList
	seen := make(map[string]bool, len(rs))
	byID := make(map[string]*rules.Rule, len(rs))
	for i, rule := range rs {
		if err := r.validator.Validate(rule); err != nil {
			errs.Add(fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		if seen[rule.ID] {
			errs.Add(&rules.ValidationError{RuleID: rule.ID, Errors: []rules.FieldError{{
				Field:   "id",
				Message: "duplicate rule id in rule set",
				Code:    rules.CodeInvalidValue,
			}}})
			continue
		}
		seen[rule.ID] = true
		byID[rule.ID] = rule.Clone()
	}
	if err := errs.ToError(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().derive(byID, rules.Kinds...)
	r.publish(next)
	r.logger.Info("rule set replaced", "rules", next.Len(), "version", next.Version, "digest", next.Digest)
	return next, nil
}

func (r *Registry) publish(s *Snapshot) {
	r.current.Store(s)
	if r.onPublish != nil {
		r.onPublish(s)
	}
}

// sameRule reports whether two rules have identical canonical encodings.
func sameRule(a, b *rules.Rule) bool {
	return bytes.Equal(rules.AppendRule(nil, a), rules.AppendRule(nil, b))
}

// ListOptions filters and paginates List.
type ListOptions struct {
	// Kind restricts results to one kind when non-empty.
	Kind rules.Kind

	// EnabledOnly drops disabled rules.
	EnabledOnly bool

	// Filter is a case-insensitive substring matched against id,
	// description and name.
	Filter string

	// Page is 1-based; values below 1 select the first page.
	Page int

	// PageSize defaults to the configured default and is capped at the
	// configured maximum.
	PageSize int
}

// ListResult is one page of rules.
type ListResult struct {
	Rules      []*rules.Rule
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// List returns the rules matching opts, ordered by id.
func (r *Registry) List(opts ListOptions) ListResult {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = r.defaultPageSize
	}
	if size > r.maxPageSize {
		size = r.maxPageSize
	}

	filter := strings.ToLower(strings.TrimSpace(opts.Filter))
	var matched []*rules.Rule
	for _, rule := range r.Snapshot().All() {
		if opts.Kind != "" && rule.Kind() != opts.Kind {
			continue
		}
		if opts.EnabledOnly && !rule.Enabled {
			continue
		}
		if filter != "" && !matchesFilter(rule, filter) {
			continue
		}
		matched = append(matched, rule)
	}

	res := ListResult{
		Total:      len(matched),
		Page:       page,
		PageSize:   size,
		TotalPages: (len(matched) + size - 1) / size,
		Rules:      []*rules.Rule{},
	}
	start := (page - 1) * size
	if start >= len(matched) {
		return res
	}
	end := min(start+size, len(matched))
	for _, rule := range matched[start:end] {
		res.Rules = append(res.Rules, rule.Clone())
	}
	return res
}

func matchesFilter(r *rules.Rule, filter string) bool {
	return strings.Contains(strings.ToLower(r.ID), filter) ||
		strings.Contains(strings.ToLower(r.Description), filter) ||
		strings.Contains(strings.ToLower(r.Name()), filter)
}

package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"mercator-hq/rules/pkg/rules"
)

// MemoryBackend keeps encoded rules in a map. It is the default backend
// and the one used by tests. Rules are stored in wire form, so callers can
// never alias stored state.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
	closed  bool

	// failWith, when set, makes every operation fail. Used by tests.
	failWith error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

// FailWith makes every subsequent operation return an *UnavailableError
// wrapping err, or clears the failure when err is nil.
func (m *MemoryBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MemoryBackend) check(op string) error {
	if m.closed {
		return Unavailable(BackendMemory, op, ErrClosed)
	}
	return Unavailable(BackendMemory, op, m.failWith)
}

// LoadAll returns every stored rule, sorted by id.
func (m *MemoryBackend) LoadAll(ctx context.Context) ([]*rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check("load"); err != nil {
		return nil, err
	}
	payloads := make(map[string][]byte, len(m.records))
	for id, b := range m.records {
		payloads[id] = b
	}
	return DecodeAll(payloads)
}

// Save inserts or replaces r.
func (m *MemoryBackend) Save(ctx context.Context, r *rules.Rule) error {
	b, err := rules.Marshal(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check("save"); err != nil {
		return err
	}
	m.records[r.ID] = b
	return nil
}

// Delete removes the rule with id.
func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check("delete"); err != nil {
		return err
	}
	delete(m.records, id)
	return nil
}

// Ping reports the injected failure, if any.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check("ping")
}

// Close marks the backend closed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored rules.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// SortByID sorts rs in place by id.
func SortByID(rs []*rules.Rule) {
	slices.SortFunc(rs, func(a, b *rules.Rule) int { return strings.Compare(a.ID, b.ID) })
}

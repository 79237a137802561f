package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by a closed MemoryStorage.
var ErrClosed = errors.New("audit storage is closed")

// MemoryStorage keeps records in memory. It is safe for concurrent use.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*Record
	closed  bool
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store implements Storage.
func (m *MemoryStorage) Store(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &StorageError{Backend: BackendMemory, Op: "store", Err: ErrClosed}
	}
	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

// Query implements Storage.
func (m *MemoryStorage) Query(_ context.Context, q Query) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, &StorageError{Backend: BackendMemory, Op: "query", Err: ErrClosed}
	}

	var out []*Record
	for _, r := range m.records {
		if q.matches(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})

	if q.Offset >= len(out) {
		return []*Record{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count implements Storage.
func (m *MemoryStorage) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// DeleteBefore implements Storage.
func (m *MemoryStorage) DeleteBefore(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.RecordedAt.Before(t) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// DeleteOldest implements Storage.
func (m *MemoryStorage) DeleteOldest(_ context.Context, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return 0, nil
	}
	sort.SliceStable(m.records, func(i, j int) bool {
		return m.records[i].RecordedAt.Before(m.records[j].RecordedAt)
	})
	if n > int64(len(m.records)) {
		n = int64(len(m.records))
	}
	m.records = append([]*Record(nil), m.records[n:]...)
	return n, nil
}

// Close implements Storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

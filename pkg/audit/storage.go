package audit

import (
	"context"
	"fmt"
	"time"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Storage persists audit records.
type Storage interface {
	// Store saves one record.
	Store(ctx context.Context, r *Record) error

	// Query returns records matching q, newest first. q must be valid.
	Query(ctx context.Context, q Query) ([]*Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// DeleteBefore removes records recorded before t.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)

	// DeleteOldest removes the n oldest records.
	DeleteOldest(ctx context.Context, n int64) (int64, error)

	Close() error
}

// StorageError reports a failed storage operation.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// QueryError reports an invalid query.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid audit query: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

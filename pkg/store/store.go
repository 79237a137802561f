// Package store persists rules outside the process.
//
// A Backend is the registry's durable copy: the service writes through to
// it on every administrative change, and the registry is rebuilt from
// LoadAll at startup and by the scheduled reconciler. Every failure to
// reach the backend is reported as an *UnavailableError so callers can
// keep serving from the last-known-good snapshot.
package store

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/rules/pkg/rules"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("store closed")

// Backend defines the interface for rule persistence.
// Implementations must be safe for concurrent use.
type Backend interface {
	// LoadAll returns every stored rule, sorted by id.
	LoadAll(ctx context.Context) ([]*rules.Rule, error)

	// Save inserts or replaces the rule with r.ID.
	Save(ctx context.Context, r *rules.Rule) error

	// Delete removes the rule with id. No-op if it does not exist.
	Delete(ctx context.Context, id string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// UnavailableError reports that a backend operation could not complete.
type UnavailableError struct {
	// Backend is the backend name ("sqlite", "redis", ...)
	Backend string

	// Op is the failed operation ("load", "save", "delete", "open", ...)
	Op string

	// Err is the underlying cause
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an *UnavailableError. A nil err yields nil, and
// an err that already is an *UnavailableError is returned unchanged.
func Unavailable(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Backend: backend, Op: op, Err: err}
}

// IsUnavailable reports whether err is or wraps an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// CorruptRecordError reports a stored payload that does not decode.
type CorruptRecordError struct {
	Key string
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt rule record %q: %v", e.Key, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// DecodeAll decodes stored payloads keyed by record key. Records that fail
// to decode are collected as *CorruptRecordError values in the returned
// list, while the good ones are still returned.
func DecodeAll(payloads map[string][]byte) ([]*rules.Rule, error) {
	out := make([]*rules.Rule, 0, len(payloads))
	var errs rules.ErrorList
	for key, b := range payloads {
		r, err := rules.Unmarshal(b)
		if err != nil {
			errs.Add(&CorruptRecordError{Key: key, Err: err})
			continue
		}
		out = append(out, r)
	}
	SortByID(out)
	return out, errs.ToError()
}

package audit

import (
	"fmt"
	"time"
)

const (
	// DefaultLimit is used when a query sets no limit.
	DefaultLimit = 100

	// MaxLimit is the largest accepted limit.
	MaxLimit = 10000
)

// Query filters audit records. Zero fields do not filter. Results are
// ordered newest first.
type Query struct {
	// RuleID keeps records in which the rule matched or failed.
	RuleID string

	// Since and Until bound RecordedAt, inclusive.
	Since time.Time
	Until time.Time

	// Blocked keeps records with the given compliance outcome.
	Blocked *bool

	Limit  int
	Offset int
}

// Validate checks the query bounds and applies the default limit.
func (q *Query) Validate() error {
	if q.Limit < 0 || q.Limit > MaxLimit {
		return &QueryError{Err: fmt.Errorf("limit must be between 0 and %d, got %d", MaxLimit, q.Limit)}
	}
	if q.Offset < 0 {
		return &QueryError{Err: fmt.Errorf("offset must be non-negative, got %d", q.Offset)}
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Since.After(q.Until) {
		return &QueryError{Err: fmt.Errorf("since must not be after until")}
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	return nil
}

func (q *Query) matches(r *Record) bool {
	if q.RuleID != "" && !r.references(q.RuleID) {
		return false
	}
	if !q.Since.IsZero() && r.RecordedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && r.RecordedAt.After(q.Until) {
		return false
	}
	if q.Blocked != nil && r.Blocked != *q.Blocked {
		return false
	}
	return true
}

package pipeline

import (
	"sort"
	"sync"
	"time"
)

// RuleStats summarizes the executions of one rule since the pipeline was
// created.
type RuleStats struct {
	RuleID          string        `json:"rule_id"`
	Executions      uint64        `json:"executions"`
	Failures        uint64        `json:"failures"`
	LastFailure     string        `json:"last_failure,omitempty"`
	LastFailureAt   time.Time     `json:"last_failure_at,omitzero"`
	AverageDuration time.Duration `json:"average_duration_ns"`
}

type ruleCounters struct {
	executions    uint64
	failures      uint64
	lastFailure   string
	lastFailureAt time.Time
	total         time.Duration
}

// statsTable accumulates per-rule counters. Entries outlive rule deletion
// so that operators can still inspect a removed rule's history.
type statsTable struct {
	mu   sync.Mutex
	byID map[string]*ruleCounters
}

func newStatsTable() *statsTable {
	return &statsTable{byID: make(map[string]*ruleCounters)}
}

func (t *statsTable) record(id string, d time.Duration, err error, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.byID[id]
	if !ok {
		c = &ruleCounters{}
		t.byID[id] = c
	}
	c.executions++
	c.total += d
	if err != nil {
		c.failures++
		c.lastFailure = err.Error()
		c.lastFailureAt = now
	}
}

func (t *statsTable) snapshot() []RuleStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RuleStats, 0, len(t.byID))
	for id, c := range t.byID {
		s := RuleStats{
			RuleID:        id,
			Executions:    c.executions,
			Failures:      c.failures,
			LastFailure:   c.lastFailure,
			LastFailureAt: c.lastFailureAt,
		}
		if c.executions > 0 {
			s.AverageDuration = c.total / time.Duration(c.executions)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

func (t *statsTable) totals() (executions, failures uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.byID {
		executions += c.executions
		failures += c.failures
	}
	return executions, failures
}

package pipeline

import (
	"time"

	"mercator-hq/rules/pkg/rules"
)

// Outcomes reported to Metrics for each evaluated rule.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Result is the verdict of a single rule. Results are created fresh for
// every evaluation and owned by the caller.
type Result struct {
	RuleID   string            `json:"rule_id"`
	RuleName string            `json:"rule_name"`
	Kind     rules.Kind        `json:"kind"`
	Matched  bool              `json:"matched"`
	Score    float64           `json:"score"`
	Action   string            `json:"action,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Err holds the fault that prevented this rule from evaluating.
	// Sibling rules are unaffected.
	Err error `json:"-"`
}

func newResult(r *rules.Rule) Result {
	return Result{
		RuleID:   r.ID,
		RuleName: r.Name(),
		Kind:     r.Kind(),
		Metadata: map[string]string{},
	}
}

func (r *Result) outcome() string {
	switch {
	case r.Err != nil:
		return OutcomeError
	case r.Matched:
		return OutcomeMatched
	case r.Metadata["skipped"] != "":
		return OutcomeSkipped
	default:
		return OutcomeUnmatched
	}
}

// RoutingSummary is the aggregated routing verdict.
type RoutingSummary struct {
	// Matched is true when at least one routing rule matched.
	Matched bool `json:"matched"`

	// RuleIDs lists matched rules in evaluation order.
	RuleIDs []string `json:"rule_ids,omitempty"`

	// Processors is the processor list to use, first preferred. In
	// all-matches mode it merges every matched rule's processors ordered by
	// descending rule weight then ascending priority.
	Processors []string `json:"processors,omitempty"`

	// Primary is Processors[0], or empty.
	Primary string `json:"primary,omitempty"`
}

// FraudSummary is the aggregated fraud verdict.
type FraudSummary struct {
	// Score is the total score_weight of every matched rule.
	Score float64 `json:"score"`

	// Action is the most severe triggered action, Allow when none triggered.
	Action rules.FraudAction `json:"action"`

	// Triggered lists rules whose threshold was reached.
	Triggered []string `json:"triggered,omitempty"`
}

// ComplianceSummary is the aggregated compliance verdict.
type ComplianceSummary struct {
	// Blocked is true when a mandatory rule matched.
	Blocked bool `json:"blocked"`

	// BlockedBy is the id of the mandatory rule that blocked.
	BlockedBy string `json:"blocked_by,omitempty"`

	// Flagged lists matched non-mandatory rules.
	Flagged []string `json:"flagged,omitempty"`
}

// BusinessSummary is the accumulated business verdict.
type BusinessSummary struct {
	// Discount is the summed discount of matched rules, capped at 100.
	Discount float64 `json:"discount"`

	// Tags is the sorted, deduplicated union of matched rules' tags.
	Tags []string `json:"tags,omitempty"`

	// Actions lists matched rules' actions in evaluation order.
	Actions []string `json:"actions,omitempty"`
}

// Decision is the outcome of one Evaluate call. A summary is nil when its
// kind was not requested.
type Decision struct {
	Results    []Result
	Routing    *RoutingSummary
	Fraud      *FraudSummary
	Compliance *ComplianceSummary
	Business   *BusinessSummary

	// SnapshotVersion and SnapshotDigest identify the rule set used.
	SnapshotVersion uint64
	SnapshotDigest  string

	// Elapsed is the wall time spent evaluating.
	Elapsed time.Duration
}

// ResultsFor returns the results of kind in evaluation order.
func (d *Decision) ResultsFor(kind rules.Kind) []Result {
	var out []Result
	for _, r := range d.Results {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the results that carry an error.
func (d *Decision) Failed() []Result {
	var out []Result
	for _, r := range d.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

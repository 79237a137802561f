package pipeline

import (
	"sort"

	"mercator-hq/rules/pkg/rules"
)

// MaxDiscount caps the accumulated business discount.
const MaxDiscount = 100.0

// routingSummary builds the routing verdict from matched rules given in
// evaluation order. With byWeight the processors of every match are merged
// by descending weight then ascending priority; otherwise only the first
// match contributes.
func routingSummary(matched []*rules.Rule, byWeight bool) *RoutingSummary {
	sum := &RoutingSummary{}
	if len(matched) == 0 {
		return sum
	}
	sum.Matched = true
	for _, r := range matched {
		sum.RuleIDs = append(sum.RuleIDs, r.ID)
	}

	ordered := matched[:1]
	if byWeight {
		ordered = append([]*rules.Rule(nil), matched...)
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i].Routing(), ordered[j].Routing()
			if a.Weight != b.Weight {
				return a.Weight > b.Weight
			}
			return a.Priority < b.Priority
		})
	}

	seen := make(map[string]bool)
	for _, r := range ordered {
		for _, p := range r.Routing().Processors {
			if seen[p] {
				continue
			}
			seen[p] = true
			sum.Processors = append(sum.Processors, p)
		}
	}
	if len(sum.Processors) > 0 {
		sum.Primary = sum.Processors[0]
	}
	return sum
}

// fraudAggregator sums the score weights of matched rules. In aggregate
// mode a matched rule triggers when the final total reaches its threshold,
// so the verdict does not depend on evaluation order. In first-match mode
// a rule triggers when the running total reaches its threshold, and
// evaluation stops there.
type fraudAggregator struct {
	mode    FraudMode
	total   float64
	matched []fraudMatch
	stopped bool
}

type fraudMatch struct {
	id        string
	def       *rules.Fraud
	triggered bool
}

func newFraudAggregator(mode FraudMode) *fraudAggregator {
	return &fraudAggregator{mode: mode}
}

// add records a matched rule.
func (a *fraudAggregator) add(id string, def *rules.Fraud) {
	a.total += def.ScoreWeight
	m := fraudMatch{id: id, def: def}
	if a.mode == FraudFirstMatch && a.total >= def.Threshold {
		m.triggered = true
		a.stopped = true
	}
	a.matched = append(a.matched, m)
}

// done reports whether evaluation of further fraud rules should stop.
func (a *fraudAggregator) done() bool { return a.stopped }

func (a *fraudAggregator) summary() *FraudSummary {
	sum := &FraudSummary{Score: a.total, Action: rules.FraudActionAllow}
	for _, m := range a.matched {
		if a.mode != FraudFirstMatch {
			m.triggered = a.total >= m.def.Threshold
		}
		if !m.triggered {
			continue
		}
		sum.Triggered = append(sum.Triggered, m.id)
		if m.def.Action.Severity() > sum.Action.Severity() {
			sum.Action = m.def.Action
		}
	}
	return sum
}

// businessAccumulator sums discounts and collects tags of matched rules.
type businessAccumulator struct {
	discount float64
	tags     map[string]bool
	actions  []string
}

func (b *businessAccumulator) add(def *rules.Business) {
	b.discount += def.Discount
	if b.tags == nil {
		b.tags = make(map[string]bool)
	}
	for _, t := range def.Tags {
		b.tags[t] = true
	}
	if def.Action != "" {
		b.actions = append(b.actions, def.Action)
	}
}

func (b *businessAccumulator) summary() *BusinessSummary {
	sum := &BusinessSummary{
		Discount: min(b.discount, MaxDiscount),
		Actions:  b.actions,
	}
	for t := range b.tags {
		sum.Tags = append(sum.Tags, t)
	}
	sort.Strings(sum.Tags)
	return sum
}

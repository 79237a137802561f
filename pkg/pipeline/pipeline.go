// Package pipeline evaluates transactions against the live rule set.
//
// Each Evaluate call loads one registry snapshot and runs the requested
// kinds in the fixed order routing, fraud, compliance, business. Every
// kind has its own aggregation semantics:
//
//   - Routing: rules in ascending priority; the first match wins unless
//     all-matches mode is configured.
//   - Fraud: matched rules add their score weight to a running total; a
//     rule whose threshold the total reaches is triggered and surfaces its
//     action. The most severe triggered action wins.
//   - Compliance: a matching mandatory rule blocks and short-circuits the
//     remaining compliance rules; other matches are flagged.
//   - Business: every match contributes its discount and tags.
//
// A fault in one rule is recorded in that rule's Result and never aborts
// its siblings or other kinds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/rules/pkg/dsl/cache"
	dslerrors "mercator-hq/rules/pkg/dsl/errors"
	"mercator-hq/rules/pkg/dsl/evaluator"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"
)

// ErrInvalidContext is returned when the transaction context holds a value
// that is not a number, string or bool.
var ErrInvalidContext = errors.New("invalid transaction context")

// Metrics receives evaluation measurements.
type Metrics interface {
	// ObserveRule records one rule evaluation.
	ObserveRule(kind, outcome string, d time.Duration)

	// ObserveEvaluation records one Evaluate call.
	ObserveEvaluation(d time.Duration, err error)
}

// Pipeline evaluates transactions. It is safe for concurrent use.
type Pipeline struct {
	// registry supplies the rule snapshot
	registry *registry.Registry

	// cache compiles rule expressions
	cache *cache.Cache

	// config holds the fixed evaluation modes
	config *Config

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics Metrics

	// stats accumulates per-rule execution counters
	stats *statsTable

	// now is the clock used for failure timestamps
	now func() time.Time
}

// New creates a pipeline reading rules from reg and compiling expressions
// through c. A nil config uses DefaultConfig.
func New(reg *registry.Registry, c *cache.Cache, config *Config, logger *slog.Logger) (*Pipeline, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("expression cache cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: reg,
		cache:    c,
		config:   config,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer("mercator-rules/pipeline"),
		stats:    newStatsTable(),
		now:      time.Now,
	}, nil
}

// WithTracer sets the tracer used for evaluation spans.
func (p *Pipeline) WithTracer(t trace.Tracer) *Pipeline {
	if t != nil {
		p.tracer = t
	}
	return p
}

// WithMetrics sets the metrics sink.
func (p *Pipeline) WithMetrics(m Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return *p.config }

// Evaluate converts txn into variables and evaluates the requested kinds.
// No kinds means all kinds.
func (p *Pipeline) Evaluate(ctx context.Context, txn map[string]any, kinds ...rules.Kind) (*Decision, error) {
	vars, err := evaluator.NewVars(txn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	return p.EvaluateVars(ctx, vars, kinds...)
}

// EvaluateVars evaluates the requested kinds against vars using a single
// registry snapshot. It returns ctx.Err() if the context ends between
// rules.
func (p *Pipeline) EvaluateVars(ctx context.Context, vars evaluator.Vars, kinds ...rules.Kind) (*Decision, error) {
	start := time.Now()
	requested, err := normalizeKinds(kinds)
	if err != nil {
		return nil, err
	}

	snap := p.registry.Snapshot()
	ctx, span := p.tracer.Start(ctx, "pipeline.Evaluate", trace.WithAttributes(
		attribute.Int64("rules.snapshot_version", int64(snap.Version)),
		attribute.String("rules.snapshot_digest", snap.Digest),
		attribute.Int("rules.variables", vars.Len()),
	))
	defer span.End()

	d := &Decision{
		SnapshotVersion: snap.Version,
		SnapshotDigest:  snap.Digest,
	}

	for _, kind := range requested {
		switch kind {
		case rules.KindRouting:
			err = p.evaluateRouting(ctx, snap, vars, d)
		case rules.KindFraud:
			err = p.evaluateFraud(ctx, snap, vars, d)
		case rules.KindCompliance:
			err = p.evaluateCompliance(ctx, snap, vars, d)
		case rules.KindBusiness:
			err = p.evaluateBusiness(ctx, snap, vars, d)
		}
		if err != nil {
			break
		}
	}

	d.Elapsed = time.Since(start)
	if p.metrics != nil {
		p.metrics.ObserveEvaluation(d.Elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("rules.evaluated", len(d.Results)),
		attribute.Int("rules.failed", len(d.Failed())),
	)
	p.logger.Debug("transaction evaluated",
		"snapshot_version", d.SnapshotVersion,
		"results", len(d.Results),
		"elapsed", d.Elapsed,
	)
	return d, nil
}

// RuleStats returns execution counters for every rule evaluated so far,
// ordered by rule id.
func (p *Pipeline) RuleStats() []RuleStats {
	return p.stats.snapshot()
}

// Health summarizes the pipeline state.
type Health struct {
	Rules           int         `json:"total_rules"`
	SnapshotVersion uint64      `json:"snapshot_version"`
	SnapshotDigest  string      `json:"snapshot_digest"`
	Executions      uint64      `json:"total_executions"`
	Failures        uint64      `json:"total_failures"`
	FailureRate     float64     `json:"failure_rate"`
	Cache           cache.Stats `json:"cache"`
}

// Health returns rule counts, execution totals and cache statistics.
func (p *Pipeline) Health() Health {
	snap := p.registry.Snapshot()
	executions, failures := p.stats.totals()
	h := Health{
		Rules:           snap.Len(),
		SnapshotVersion: snap.Version,
		SnapshotDigest:  snap.Digest,
		Executions:      executions,
		Failures:        failures,
		Cache:           p.cache.Stats(),
	}
	h.FailureRate = float64(failures) / float64(max(executions, 1))
	return h
}

func normalizeKinds(kinds []rules.Kind) ([]rules.Kind, error) {
	if len(kinds) == 0 {
		return rules.Kinds, nil
	}
	want := make(map[rules.Kind]bool, len(kinds))
	for _, k := range kinds {
		parsed, err := rules.ParseKind(string(k))
		if err != nil {
			return nil, err
		}
		want[parsed] = true
	}
	out := make([]rules.Kind, 0, len(want))
	for _, k := range rules.Kinds {
		if want[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// match compiles and evaluates a rule's expression.
func (p *Pipeline) match(r *rules.Rule, vars evaluator.Vars) (bool, time.Duration, error) {
	start := time.Now()
	prog, err := p.cache.Compile(r.Definition.Expr())
	ok := false
	if err == nil {
		ok, err = prog.EvalBool(vars)
	}
	d := time.Since(start)
	p.stats.record(r.ID, d, err, p.now())
	return ok, d, err
}

// settle stores err on res. Unbound variables become a recorded skip
// unless strict is set.
func (p *Pipeline) settle(res *Result, err error, strict bool) {
	if err == nil {
		return
	}
	var unbound *dslerrors.UnboundVariableError
	if !strict && errors.As(err, &unbound) {
		res.Metadata["skipped"] = "unbound_variable:" + unbound.Name
		return
	}
	res.Err = err
	p.logger.Warn("rule evaluation failed",
		"rule_id", res.RuleID,
		"kind", res.Kind,
		"error", err,
	)
}

func (p *Pipeline) finish(d *Decision, res Result, elapsed time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveRule(string(res.Kind), res.outcome(), elapsed)
	}
	d.Results = append(d.Results, res)
}

func (p *Pipeline) evaluateRouting(ctx context.Context, snap *registry.Snapshot, vars evaluator.Vars, d *Decision) error {
	method, hasMethod := vars.String("method")
	var matched []*rules.Rule

	for _, r := range snap.Rules(rules.KindRouting) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.Enabled {
			continue
		}
		def := r.Routing()
		if hasMethod && !def.HasMethod(method) {
			continue
		}

		res := newResult(r)
		ok, elapsed, err := p.match(r, vars)
		p.settle(&res, err, false)
		res.Metadata["priority"] = strconv.Itoa(def.Priority)
		if ok {
			res.Matched = true
			res.Metadata["processors"] = strings.Join(def.Processors, ",")
			res.Metadata["weight"] = strconv.FormatFloat(def.Weight, 'g', -1, 64)
			if len(def.Processors) > 0 {
				res.Metadata["primary"] = def.Processors[0]
				res.Action = "route:" + def.Processors[0]
			}
			matched = append(matched, r)
		}
		p.finish(d, res, elapsed)

		if ok && p.config.RoutingMode == RoutingFirstMatch {
			break
		}
	}

	d.Routing = routingSummary(matched, p.config.RoutingMode == RoutingAllMatches)
	return nil
}

func (p *Pipeline) evaluateFraud(ctx context.Context, snap *registry.Snapshot, vars evaluator.Vars, d *Decision) error {
	agg := newFraudAggregator(p.config.FraudMode)
	var matched []int
	actions := make(map[string]rules.FraudAction)

	for _, r := range snap.Rules(rules.KindFraud) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.Enabled {
			continue
		}
		def := r.Fraud()

		res := newResult(r)
		ok, elapsed, err := p.match(r, vars)
		p.settle(&res, err, true)
		res.Metadata["threshold"] = strconv.FormatFloat(def.Threshold, 'g', -1, 64)
		if ok {
			res.Matched = true
			res.Score = def.ScoreWeight
			agg.add(r.ID, def)
			actions[r.ID] = def.Action
			res.Metadata["running_score"] = strconv.FormatFloat(agg.total, 'g', -1, 64)
			matched = append(matched, len(d.Results))
		}
		p.finish(d, res, elapsed)

		if agg.done() {
			break
		}
	}

	sum := agg.summary()
	triggered := make(map[string]bool, len(sum.Triggered))
	for _, id := range sum.Triggered {
		triggered[id] = true
	}
	for _, i := range matched {
		res := &d.Results[i]
		res.Metadata["triggered"] = strconv.FormatBool(triggered[res.RuleID])
		if triggered[res.RuleID] {
			res.Action = strings.ToLower(actions[res.RuleID].String())
		}
	}
	d.Fraud = sum
	return nil
}

func (p *Pipeline) evaluateCompliance(ctx context.Context, snap *registry.Snapshot, vars evaluator.Vars, d *Decision) error {
	country, hasCountry := vars.String("destination_country")
	sum := &ComplianceSummary{}

	for _, r := range snap.Rules(rules.KindCompliance) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.Enabled {
			continue
		}
		def := r.Compliance()
		if hasCountry && !def.AppliesTo(country) {
			continue
		}

		res := newResult(r)
		ok, elapsed, err := p.match(r, vars)
		p.settle(&res, err, false)
		res.Metadata["mandatory"] = strconv.FormatBool(def.Mandatory)
		if def.Regulation != "" {
			res.Metadata["regulation"] = def.Regulation
		}
		if ok {
			res.Matched = true
			if def.Mandatory {
				res.Action = "block"
				sum.Blocked = true
				sum.BlockedBy = r.ID
			} else {
				res.Action = "flag"
				sum.Flagged = append(sum.Flagged, r.ID)
			}
		}
		p.finish(d, res, elapsed)

		if sum.Blocked {
			break
		}
	}

	d.Compliance = sum
	return nil
}

func (p *Pipeline) evaluateBusiness(ctx context.Context, snap *registry.Snapshot, vars evaluator.Vars, d *Decision) error {
	var acc businessAccumulator

	for _, r := range snap.Rules(rules.KindBusiness) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.Enabled {
			continue
		}
		def := r.Business()

		res := newResult(r)
		ok, elapsed, err := p.match(r, vars)
		p.settle(&res, err, false)
		if ok {
			res.Matched = true
			res.Action = def.Action
			res.Metadata["discount"] = strconv.FormatFloat(def.Discount, 'g', -1, 64)
			if len(def.Tags) > 0 {
				res.Metadata["tags"] = strings.Join(def.Tags, ",")
			}
			acc.add(def)
		}
		p.finish(d, res, elapsed)
	}

	d.Business = acc.summary()
	return nil
}

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/rules/pkg/audit"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/dsl/cache"
	"mercator-hq/rules/pkg/pipeline"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Helper function to create test config
func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:   true,
		Namespace: "test",
		Subsystem: "rules",
	}
}

var (
	_ pipeline.Metrics = (*Collector)(nil)
	_ cache.Observer   = (*Collector)(nil)
	_ audit.Metrics    = (*Collector)(nil)
)

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	reg := prometheus.NewRegistry()

	collector := NewCollector(cfg, reg)

	if collector.config != cfg {
		t.Error("Collector config not set correctly")
	}
	if collector.Registry() != reg {
		t.Error("Collector registry not set correctly")
	}
}

func TestCollector_DefaultNames(t *testing.T) {
	collector := NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	collector.ObserveEvaluation(time.Millisecond, nil)

	count, err := testutil.GatherAndCount(collector.Registry(), "mercator_rules_evaluations_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 series, got %d", count)
	}
}

func TestCollector_ObserveRule(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	tests := []struct {
		kind    string
		outcome string
		times   int
	}{
		{"routing", "matched", 3},
		{"fraud", "unmatched", 2},
		{"compliance", "skipped", 1},
		{"business", "error", 4},
	}

	for _, tt := range tests {
		for i := 0; i < tt.times; i++ {
			collector.ObserveRule(tt.kind, tt.outcome, 10*time.Microsecond)
		}
	}

	for _, tt := range tests {
		got := testutil.ToFloat64(collector.rules.ruleEvaluationsTotal.WithLabelValues(tt.kind, tt.outcome))
		if got != float64(tt.times) {
			t.Errorf("%s/%s = %v, want %d", tt.kind, tt.outcome, got, tt.times)
		}
	}
}

func TestCollector_ObserveEvaluation(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.ObserveEvaluation(time.Millisecond, nil)
	collector.ObserveEvaluation(time.Millisecond, nil)
	collector.ObserveEvaluation(time.Millisecond, errors.New("canceled"))

	if got := testutil.ToFloat64(collector.rules.evaluationsTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.rules.evaluationsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestCollector_RecordSnapshot(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	reg := registry.New(registry.Config{OnPublish: collector.RecordSnapshot})

	rs := rules.Samples(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	snap, err := reg.Replace(rs)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	for _, k := range rules.Kinds {
		got := testutil.ToFloat64(collector.rules.loaded.WithLabelValues(string(k)))
		if got != float64(snap.Count(k)) {
			t.Errorf("loaded{%s} = %v, want %d", k, got, snap.Count(k))
		}
	}
	if got := testutil.ToFloat64(collector.rules.snapshotVersion); got != float64(snap.Version) {
		t.Errorf("snapshot_version = %v, want %d", got, snap.Version)
	}
}

func TestCollector_CacheObserver(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	c := cache.New(1).WithObserver(collector)

	if _, err := c.Compile("amount > 1"); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := c.Compile("amount > 1"); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := c.Compile("amount > 2"); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if got := testutil.ToFloat64(collector.cache.lookupsTotal.WithLabelValues(lookupHit)); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.cache.lookupsTotal.WithLabelValues(lookupMiss)); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.cache.evictionsTotal); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}

	collector.UpdateCacheSize(c.Len())
	if got := testutil.ToFloat64(collector.cache.entries); got != 1 {
		t.Errorf("entries = %v, want 1", got)
	}
}

func TestCollector_Feed(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.EventApplied("upsert", 7)
	collector.EventApplied("delete", 9)
	collector.EventRejected("decode")
	collector.ReconcileCompleted(time.Second, nil)
	collector.ReconcileCompleted(time.Second, errors.New("store down"))

	if got := testutil.ToFloat64(collector.feed.lastSequence); got != 9 {
		t.Errorf("last_sequence = %v, want 9", got)
	}
	if got := testutil.ToFloat64(collector.feed.appliedTotal.WithLabelValues("upsert")); got != 1 {
		t.Errorf("applied{upsert} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.feed.rejectedTotal.WithLabelValues("decode")); got != 1 {
		t.Errorf("rejected{decode} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.feed.reconcileTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("reconcile{error} = %v, want 1", got)
	}
}

func TestCollector_Audit(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.AuditRecord("written")
	collector.AuditRecord("written")
	collector.AuditRecord("dropped")
	collector.AuditPruned(5)

	if got := testutil.ToFloat64(collector.audit.recordsTotal.WithLabelValues("written")); got != 2 {
		t.Errorf("audit_records{written} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.audit.recordsTotal.WithLabelValues("dropped")); got != 1 {
		t.Errorf("audit_records{dropped} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.audit.prunedTotal); got != 5 {
		t.Errorf("audit_pruned = %v, want 5", got)
	}
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordHTTPRequest(http.MethodGet, "/v1/rules/{id}", http.StatusOK, time.Millisecond)
	collector.RecordHTTPRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	if got := testutil.ToFloat64(collector.requests.requestsTotal.WithLabelValues("GET", "/v1/rules/{id}", "200")); got != 1 {
		t.Errorf("requests{200} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.requests.requestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("requests{unmatched} = %v, want 1", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, nil)

	collector.ObserveRule("routing", "matched", time.Millisecond)
	collector.CacheHit()
	collector.EventApplied("upsert", 1)

	if got := testutil.ToFloat64(collector.rules.ruleEvaluationsTotal.WithLabelValues("routing", "matched")); got != 0 {
		t.Errorf("disabled collector recorded %v rule evaluations", got)
	}
	if got := testutil.ToFloat64(collector.cache.lookupsTotal.WithLabelValues(lookupHit)); got != 0 {
		t.Errorf("disabled collector recorded %v cache hits", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.ObserveRule("fraud", "matched", time.Millisecond)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_rules_rule_evaluations_total{kind="fraud",outcome="matched"} 1`) {
		t.Errorf("metrics output missing rule evaluation counter:\n%s", rec.Body.String())
	}
}

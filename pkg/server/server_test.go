package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
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
	"mercator-hq/rules/pkg/security/auth"
	"mercator-hq/rules/pkg/service"
	"mercator-hq/rules/pkg/store"
	"mercator-hq/rules/pkg/telemetry/health"
	"mercator-hq/rules/pkg/telemetry/logging"
	"mercator-hq/rules/pkg/telemetry/metrics"
)

const businessRule = `{
	"id": "biz-1",
	"description": "large order discount",
	"business": {"name": "big-order", "condition": "amount > 100", "action": "discount", "discount": 5, "tags": ["promo"]}
}`

type testServer struct {
	srv   *Server
	store *store.MemoryBackend
}

func newTestServer(t *testing.T, cfg *config.ServerConfig, opts ...func(*Deps)) *testServer {
	t.Helper()
	reg := registry.New(registry.Config{Logger: logging.Discard()})
	p, err := pipeline.New(reg, cache.New(100), nil, logging.Discard())
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	st := store.NewMemoryBackend()
	svc, err := service.New(service.Config{
		Registry: reg,
		Pipeline: p,
		Store:    st,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}

	checker := health.New(time.Second)
	checker.RegisterCheck("store", svc.Ping)
	checker.SetDetails(func() any { return svc.Health() })

	deps := Deps{
		Service: svc,
		Health:  checker,
		Metrics: metrics.NewCollector(&config.MetricsConfig{Enabled: true}, nil),
		Version: health.NewVersionInfo("1.2.3", "abc123", "now"),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := New(cfg, deps, logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testServer{srv: srv, store: st}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresService(t *testing.T) {
	if _, err := New(nil, Deps{}, nil); err == nil {
		t.Error("expected error without service")
	}
}

func TestRuleLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/rules", businessRule)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/rules/biz-1" {
		t.Errorf("Location = %q", loc)
	}
	created := decodeBody[map[string]any](t, rec)
	if created["version"] == "" || created["created_at"] == nil {
		t.Errorf("defaults not applied: %v", created)
	}

	rec = ts.do(t, http.MethodGet, "/v1/rules/biz-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decodeBody[map[string]any](t, rec)
	if got["description"] != "large order discount" {
		t.Errorf("description = %v", got["description"])
	}

	update := strings.Replace(businessRule, `"discount": 5`, `"discount": 10`, 1)
	rec = ts.do(t, http.MethodPut, "/v1/rules/biz-1", update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body)
	}
	biz := decodeBody[map[string]any](t, rec)["business"].(map[string]any)
	if biz["discount"] != 10.0 {
		t.Errorf("discount = %v, want 10", biz["discount"])
	}

	rec = ts.do(t, http.MethodDelete, "/v1/rules/biz-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec = ts.do(t, http.MethodGet, "/v1/rules/biz-1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
	if ts.store.Len() != 0 {
		t.Errorf("store holds %d records after delete", ts.store.Len())
	}
}

func TestCreate_GeneratesID(t *testing.T) {
	ts := newTestServer(t, nil)
	body := `{"business": {"name": "n", "condition": "amount > 1", "action": "tag"}}`
	rec := ts.do(t, http.MethodPost, "/v1/rules", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if id, _ := decodeBody[map[string]any](t, rec)["id"].(string); id == "" {
		t.Error("expected generated id")
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(t, http.MethodPost, "/v1/rules", businessRule); rec.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rec.Code)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"duplicate", http.MethodPost, "/v1/rules", businessRule, http.StatusConflict, CodeAlreadyExists},
		{"missing definition", http.MethodPost, "/v1/rules", `{"id": "x"}`, http.StatusUnprocessableEntity, "MISSING_DEFINITION"},
		{"out of range", http.MethodPost, "/v1/rules",
			`{"id": "x", "business": {"name": "n", "condition": "amount > 1", "action": "a", "discount": 150}}`,
			http.StatusUnprocessableEntity, "OUT_OF_RANGE"},
		{"unknown field", http.MethodPost, "/v1/rules", `{"id": "x", "bogus": 1}`, http.StatusBadRequest, CodeInvalidRequest},
		{"malformed json", http.MethodPost, "/v1/rules", `{"id":`, http.StatusBadRequest, CodeInvalidRequest},
		{"empty body", http.MethodPost, "/v1/rules", "", http.StatusBadRequest, CodeInvalidRequest},
		{"update missing", http.MethodPut, "/v1/rules/nope", businessRule, http.StatusBadRequest, CodeInvalidRequest},
		{"update unknown", http.MethodPut, "/v1/rules/nope", strings.Replace(businessRule, `"biz-1"`, `"nope"`, 1), http.StatusNotFound, CodeNotFound},
		{"delete unknown", http.MethodDelete, "/v1/rules/nope", "", http.StatusNotFound, CodeNotFound},
		{"bad kind filter", http.MethodGet, "/v1/rules?kind=shipping", "", http.StatusBadRequest, CodeInvalidRequest},
		{"bad page", http.MethodGet, "/v1/rules?page=0", "", http.StatusBadRequest, CodeInvalidRequest},
		{"bad enabled_only", http.MethodGet, "/v1/rules?enabled_only=maybe", "", http.StatusBadRequest, CodeInvalidRequest},
		{"unknown route", http.MethodGet, "/v2/rules", "", http.StatusNotFound, CodeNotFound},
		{"wrong method", http.MethodPatch, "/v1/rules/biz-1", "", http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantCode, rec.Body)
			}
			resp := decodeBody[ErrorResponse](t, rec)
			if resp.Success {
				t.Error("success = true on error response")
			}
			found := false
			for _, e := range resp.Errors {
				if e.Code == tt.wantErr {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %+v, want code %s", resp.Errors, tt.wantErr)
			}
		})
	}
}

func TestStoreUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.FailWith(errors.New("connection refused"))

	rec := ts.do(t, http.MethodPost, "/v1/rules", businessRule)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("backend error leaked to client")
	}

	if rec = ts.do(t, http.MethodGet, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", rec.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, &config.ServerConfig{MaxBodyBytes: 32})
	rec := ts.do(t, http.MethodPost, "/v1/rules", businessRule)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestListRules(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, body := range []string{
		businessRule,
		strings.Replace(businessRule, `"biz-1"`, `"biz-2"`, 1),
		`{"id": "cmp-1", "compliance": {"name": "sanctions", "expression": "country == \"KP\"", "mandatory": true}}`,
	} {
		if rec := ts.do(t, http.MethodPost, "/v1/rules", body); rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
		}
	}

	tests := []struct {
		name      string
		query     string
		wantIDs   []string
		wantTotal int
		wantPages int
	}{
		{"all", "", []string{"biz-1", "biz-2", "cmp-1"}, 3, 1},
		{"by kind", "?kind=business", []string{"biz-1", "biz-2"}, 2, 1},
		{"filter", "?filter=SANCTIONS", []string{"cmp-1"}, 1, 1},
		{"paged", "?page=2&page_size=2", []string{"cmp-1"}, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/v1/rules"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			resp := decodeBody[RuleListResponse](t, rec)
			var ids []string
			for _, d := range resp.Rules {
				ids = append(ids, d.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
			if resp.Total != tt.wantTotal || resp.TotalPages != tt.wantPages {
				t.Errorf("total = %d pages = %d, want %d and %d", resp.Total, resp.TotalPages, tt.wantTotal, tt.wantPages)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(t, http.MethodPost, "/v1/rules", businessRule); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/v1/evaluate", `{"transaction": {"amount": 150}, "kinds": ["business"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decodeBody[DecisionResponse](t, rec)
	if len(resp.Results) != 1 || !resp.Results[0].Matched || resp.Results[0].RuleID != "biz-1" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Business == nil || resp.Business.Discount != 5 {
		t.Errorf("business = %+v, want discount 5", resp.Business)
	}
	if resp.Routing != nil || resp.Fraud != nil {
		t.Error("summaries returned for kinds that were not requested")
	}
	if resp.SnapshotVersion == 0 || resp.SnapshotDigest == "" {
		t.Errorf("snapshot = %d %q", resp.SnapshotVersion, resp.SnapshotDigest)
	}

	tests := []struct {
		name string
		body string
	}{
		{"missing transaction", `{}`},
		{"unknown kind", `{"transaction": {}, "kinds": ["shipping"]}`},
		{"nested value", `{"transaction": {"customer": {"id": 1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodPost, "/v1/evaluate", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/health", http.StatusOK, `"total_rules"`},
		{"/ready", http.StatusOK, `"store"`},
		{"/version", http.StatusOK, `"1.2.3"`},
		{"/v1/stats", http.StatusOK, `"health"`},
		{"/metrics", http.StatusOK, "mercator_rules_http_requests_total"},
	}
	// one request so the request counter has a sample
	ts.do(t, http.MethodGet, "/v1/rules", "")

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body %s does not contain %s", rec.Body, tt.contains)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}

func TestStartShutdown(t *testing.T) {
	ts := newTestServer(t, &config.ServerConfig{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for ts.srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ts.srv.Addr() == nil {
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + ts.srv.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestAuth(t *testing.T) {
	withAuth := func(d *Deps) {
		v := auth.NewValidator([]auth.Key{{Name: "ops", Secret: "s3cret", Enabled: true}})
		d.Auth = auth.NewMiddleware(v, "", logging.Discard())
	}

	tests := []struct {
		name         string
		protectReads bool
		method       string
		path         string
		body         string
		key          string
		want         int
	}{
		{"create without key", false, http.MethodPost, "/v1/rules", businessRule, "", http.StatusUnauthorized},
		{"create with wrong key", false, http.MethodPost, "/v1/rules", businessRule, "nope", http.StatusUnauthorized},
		{"create with key", false, http.MethodPost, "/v1/rules", businessRule, "s3cret", http.StatusCreated},
		{"delete without key", false, http.MethodDelete, "/v1/rules/biz-1", "", "", http.StatusUnauthorized},
		{"list open", false, http.MethodGet, "/v1/rules", "", "", http.StatusOK},
		{"stats open", false, http.MethodGet, "/v1/stats", "", "", http.StatusOK},
		{"list guarded", true, http.MethodGet, "/v1/rules", "", "", http.StatusUnauthorized},
		{"list guarded with key", true, http.MethodGet, "/v1/rules", "", "s3cret", http.StatusOK},
		{"evaluate never guarded", true, http.MethodPost, "/v1/evaluate", `{"transaction": {"amount": 1}}`, "", http.StatusOK},
		{"health never guarded", true, http.MethodGet, "/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &config.ServerConfig{Auth: config.AuthConfig{ProtectReads: tt.protectReads}}, withAuth)

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.key != "" {
				req.Header.Set("Authorization", "Bearer "+tt.key)
			}
			rec := httptest.NewRecorder()
			ts.srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.want == http.StatusUnauthorized {
				resp := decodeBody[ErrorResponse](t, rec)
				if len(resp.Errors) != 1 || resp.Errors[0].Code != CodeUnauthorized {
					t.Errorf("errors = %+v", resp.Errors)
				}
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate header")
				}
			}
		})
	}
}

func TestListDecisions(t *testing.T) {
	storage := audit.NewMemoryStorage()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, rec := range []*audit.Record{
		{ID: "d1", Matched: []string{"route-a"}},
		{ID: "d2", Matched: []string{"block-a"}, Blocked: true, BlockedBy: "block-a"},
		{ID: "d3", Matched: []string{"route-a", "fraud-a"}},
	} {
		rec.RecordedAt = base.Add(time.Duration(i) * time.Minute)
		if err := storage.Store(context.Background(), rec); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}
	ts := newTestServer(t, nil, func(d *Deps) { d.Audit = storage })

	tests := []struct {
		name    string
		query   string
		want    int
		wantIDs []string
	}{
		{"all newest first", "", http.StatusOK, []string{"d3", "d2", "d1"}},
		{"by rule", "?rule_id=route-a", http.StatusOK, []string{"d3", "d1"}},
		{"blocked", "?blocked=true", http.StatusOK, []string{"d2"}},
		{"since", "?since=2024-06-01T12:01:00Z", http.StatusOK, []string{"d3", "d2"}},
		{"until", "?until=2024-06-01T12:00:30Z", http.StatusOK, []string{"d1"}},
		{"paged", "?limit=1&offset=1", http.StatusOK, []string{"d2"}},
		{"no match", "?rule_id=missing", http.StatusOK, []string{}},
		{"bad since", "?since=yesterday", http.StatusBadRequest, nil},
		{"bad blocked", "?blocked=maybe", http.StatusBadRequest, nil},
		{"limit too large", "?limit=100000", http.StatusBadRequest, nil},
		{"inverted range", "?since=2024-06-02T00:00:00Z&until=2024-06-01T00:00:00Z", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/v1/decisions"+tt.query, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				resp := decodeBody[ErrorResponse](t, rec)
				if len(resp.Errors) != 1 || resp.Errors[0].Code != CodeInvalidRequest {
					t.Errorf("errors = %+v", resp.Errors)
				}
				return
			}
			resp := decodeBody[DecisionListResponse](t, rec)
			ids := []string{}
			for _, d := range resp.Decisions {
				ids = append(ids, d.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") || resp.Count != len(tt.wantIDs) {
				t.Errorf("decisions = %v (count %d), want %v", ids, resp.Count, tt.wantIDs)
			}
		})
	}
}

func TestListDecisions_NotMountedWithoutAudit(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(t, http.MethodGet, "/v1/decisions", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

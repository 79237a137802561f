package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mercator-hq/rules/pkg/pipeline"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"
)

// RuleListResponse is one page of rules.
type RuleListResponse struct {
	Rules      []rules.RuleDocument `json:"rules"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalPages int                  `json:"total_pages"`
}

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	// Transaction is the evaluation context.
	Transaction map[string]any `json:"transaction"`

	// Kinds restricts evaluation. Empty evaluates every kind.
	Kinds []string `json:"kinds,omitempty"`
}

// ResultBody is one rule verdict.
type ResultBody struct {
	pipeline.Result
	Error string `json:"error,omitempty"`
}

// DecisionResponse is the body returned by POST /v1/evaluate.
type DecisionResponse struct {
	Results         []ResultBody                `json:"results"`
	Routing         *pipeline.RoutingSummary    `json:"routing,omitempty"`
	Fraud           *pipeline.FraudSummary      `json:"fraud,omitempty"`
	Compliance      *pipeline.ComplianceSummary `json:"compliance,omitempty"`
	Business        *pipeline.BusinessSummary   `json:"business,omitempty"`
	SnapshotVersion uint64                      `json:"snapshot_version"`
	SnapshotDigest  string                      `json:"snapshot_digest"`
	ElapsedMS       float64                     `json:"elapsed_ms"`
}

// NewDecisionResponse converts a decision into its response body.
func NewDecisionResponse(d *pipeline.Decision) DecisionResponse {
	resp := DecisionResponse{
		Results:         make([]ResultBody, 0, len(d.Results)),
		Routing:         d.Routing,
		Fraud:           d.Fraud,
		Compliance:      d.Compliance,
		Business:        d.Business,
		SnapshotVersion: d.SnapshotVersion,
		SnapshotDigest:  d.SnapshotDigest,
		ElapsedMS:       float64(d.Elapsed.Microseconds()) / 1000,
	}
	for _, res := range d.Results {
		body := ResultBody{Result: res}
		if res.Err != nil {
			body.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, body)
	}
	return resp
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := decodeRule(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.deps.Service.Create(r.Context(), rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/rules/"+created.ID)
	writeJSON(w, http.StatusCreated, rules.DocumentFromRule(created))
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.deps.Service.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules.DocumentFromRule(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := decodeRule(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rule.ID != "" && rule.ID != id {
		s.writeError(w, r, badRequest("id", fmt.Sprintf("body id %q does not match path id %q", rule.ID, id)))
		return
	}
	updated, err := s.deps.Service.Update(r.Context(), id, rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules.DocumentFromRule(updated))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res := s.deps.Service.List(opts)
	resp := RuleListResponse{
		Rules:      make([]rules.RuleDocument, 0, len(res.Rules)),
		Total:      res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalPages: res.TotalPages,
	}
	for _, rule := range res.Rules {
		resp.Rules = append(resp.Rules, rules.DocumentFromRule(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Transaction == nil {
		s.writeError(w, r, badRequest("transaction", "transaction is required"))
		return
	}
	kinds := make([]rules.Kind, 0, len(req.Kinds))
	for i, name := range req.Kinds {
		k, err := rules.ParseKind(name)
		if err != nil {
			s.writeError(w, r, badRequest(fmt.Sprintf("kinds[%d]", i), err.Error()))
			return
		}
		kinds = append(kinds, k)
	}

	decision, err := s.deps.Service.Evaluate(r.Context(), req.Transaction, kinds...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewDecisionResponse(decision))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"health": s.deps.Service.Health(),
		"rules":  s.deps.Service.RuleStats(),
	})
}

func parseListOptions(r *http.Request) (registry.ListOptions, error) {
	q := r.URL.Query()
	opts := registry.ListOptions{Filter: q.Get("filter")}

	if v := q.Get("kind"); v != "" {
		k, err := rules.ParseKind(v)
		if err != nil {
			return opts, badRequest("kind", err.Error())
		}
		opts.Kind = k
	}
	if v := q.Get("enabled_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, badRequest("enabled_only", "enabled_only must be a boolean")
		}
		opts.EnabledOnly = b
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &opts.Page}, {"page_size", &opts.PageSize}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, badRequest(p.name, p.name+" must be a positive integer")
		}
		*p.dst = n
	}
	return opts, nil
}

func decodeRule(r *http.Request) (*rules.Rule, error) {
	var doc rules.RuleDocument
	if err := decodeJSON(r, &doc); err != nil {
		return nil, err
	}
	return doc.ToRule()
}

// decodeJSON decodes a single JSON value, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return badRequest("", "request body is empty")
		}
		return badRequest("", "invalid JSON: "+err.Error())
	}
	if dec.More() {
		return badRequest("", "request body must contain a single JSON value")
	}
	return nil
}

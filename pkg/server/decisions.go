package server

import (
	"net/http"
	"strconv"
	"time"

	"mercator-hq/rules/pkg/audit"
)

// DecisionListResponse is the body of GET /v1/decisions.
type DecisionListResponse struct {
	Decisions []*audit.Record `json:"decisions"`
	Count     int             `json:"count"`
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	q, err := parseDecisionQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := q.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	recs, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*audit.Record{}
	}
	writeJSON(w, http.StatusOK, DecisionListResponse{Decisions: recs, Count: len(recs)})
}

func parseDecisionQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	q := audit.Query{RuleID: v.Get("rule_id")}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &q.Since}, {"until", &q.Until}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, badRequest(p.name, p.name+" must be an RFC 3339 timestamp")
		}
		*p.dst = t
	}
	if raw := v.Get("blocked"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, badRequest("blocked", "blocked must be a boolean")
		}
		q.Blocked = &b
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, badRequest(p.name, p.name+" must be an integer")
		}
		*p.dst = n
	}
	return q, nil
}

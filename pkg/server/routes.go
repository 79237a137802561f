package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/rules/pkg/telemetry/health"
)

func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.recovery)
	if s.deps.Tracer != nil {
		r.Use(s.deps.Tracer.HTTPMiddleware)
	}
	r.Use(s.instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeErrorResponse(w, r, http.StatusNotFound, "route not found", CodeNotFound, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeErrorResponse(w, r, http.StatusMethodNotAllowed, "method not allowed", CodeMethodNotAllowed, "")
	})

	r.Get("/health", s.deps.Health.LivenessHandler())
	r.Get("/ready", s.deps.Health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.deps.Version))
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.deps.MetricsPath, s.deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limitBody)

		write, read := s.guards()
		r.Route("/rules", func(r chi.Router) {
			r.With(read...).Get("/", s.handleListRules)
			r.With(write...).Post("/", s.handleCreateRule)
			r.With(read...).Get("/{id}", s.handleGetRule)
			r.With(write...).Put("/{id}", s.handleUpdateRule)
			r.With(write...).Delete("/{id}", s.handleDeleteRule)
		})
		r.Post("/evaluate", s.handleEvaluate)
		r.With(read...).Get("/stats", s.handleStats)
		if s.deps.Audit != nil {
			r.With(read...).Get("/decisions", s.handleListDecisions)
		}
	})

	return r
}

// guards returns the middleware applied to rule writes and to rule
// reads. Both are empty when auth is off.
func (s *Server) guards() (write, read []func(http.Handler) http.Handler) {
	if s.deps.Auth == nil {
		return nil, nil
	}
	write = []func(http.Handler) http.Handler{s.deps.Auth.Handle}
	if s.config.Auth.ProtectReads {
		read = write
	}
	return write, read
}

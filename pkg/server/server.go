package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/rules/pkg/audit"
	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/security/auth"
	"mercator-hq/rules/pkg/service"
	"mercator-hq/rules/pkg/telemetry/health"
	"mercator-hq/rules/pkg/telemetry/metrics"
	"mercator-hq/rules/pkg/telemetry/tracing"
)

// Deps are the collaborators served over HTTP.
type Deps struct {
	// Service handles rule administration and evaluation. Required.
	Service *service.Service

	// Health backs /health and /ready. Defaults to a checker with no
	// dependency checks.
	Health *health.Checker

	// Metrics records request metrics and backs the metrics endpoint.
	Metrics *metrics.Collector

	// MetricsPath is where metrics are served.
	// Default: "/metrics"
	MetricsPath string

	// Tracer starts a span per request.
	Tracer *tracing.Tracer

	// Version is reported by /version.
	Version health.VersionInfo

	// Auth guards rule writes, and reads when configured. Nil leaves the
	// routes open.
	Auth *auth.Middleware

	// TLS serves HTTPS when set.
	TLS *tls.Config

	// Audit backs GET /v1/decisions. Nil leaves the route unmounted.
	Audit audit.Storage
}

// Server is the HTTP server for the rules service.
type Server struct {
	config     *config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	shutdownOnce sync.Once
	mu           sync.Mutex
	isRunning    bool
	addr         net.Addr
}

// New creates a server. A nil cfg uses the defaults.
func New(cfg *config.ServerConfig, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Service == nil {
		return nil, errors.New("server: service is required")
	}
	c := config.ServerConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.ListenAddress == "" {
		c.ListenAddress = config.DefaultListenAddress
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = config.DefaultPrometheusPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{config: &c, deps: deps, logger: logger}
	if deps.Auth != nil {
		deps.Auth.WithRejectHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeErrorResponse(w, r, http.StatusUnauthorized, err.Error(), CodeUnauthorized, "")
		})
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound listen address once Start is serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	scheme := "http"
	if s.deps.TLS != nil {
		ln = tls.NewListener(ln, s.deps.TLS)
		scheme = "https"
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting rules server", "address", ln.Addr().String(), "scheme", scheme)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.mu.Unlock()
		if !running {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("rules server stopped")
	})

	return shutdownErr
}

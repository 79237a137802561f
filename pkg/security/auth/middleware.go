package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// RejectFunc writes the response for a request that failed
// authentication.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates requests with an API key header.
type Middleware struct {
	validator *Validator
	header    string
	logger    *slog.Logger
	reject    RejectFunc
}

// NewMiddleware creates a middleware reading keys from header. An empty
// header defaults to Authorization.
func NewMiddleware(v *Validator, header string, logger *slog.Logger) *Middleware {
	if header == "" {
		header = "Authorization"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		validator: v,
		header:    header,
		logger:    logger,
		reject: func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "missing or invalid API key", http.StatusUnauthorized)
		},
	}
}

// WithRejectHandler replaces the default plain-text 401 response.
func (m *Middleware) WithRejectHandler(fn RejectFunc) *Middleware {
	if fn != nil {
		m.reject = fn
	}
	return m
}

// Handle wraps next with authentication.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := m.validator.Validate(m.extract(r))
		if err != nil {
			m.logger.WarnContext(r.Context(), "request rejected",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			m.reject(w, r, err)
			return
		}

		m.logger.DebugContext(r.Context(), "request authenticated",
			"key", key.Name,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(WithKeyName(r.Context(), key.Name)))
	})
}

func (m *Middleware) extract(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get(m.header))
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}

type contextKey struct{}

// WithKeyName returns ctx carrying the authenticated key name.
func WithKeyName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKey{}, name)
}

// KeyName returns the authenticated key name from ctx, or "".
func KeyName(ctx context.Context) string {
	name, _ := ctx.Value(contextKey{}).(string)
	return name
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mercator-hq/rules/pkg/audit"
	"mercator-hq/rules/pkg/pipeline"
	"mercator-hq/rules/pkg/registry"
	"mercator-hq/rules/pkg/rules"
	"mercator-hq/rules/pkg/service"
	"mercator-hq/rules/pkg/store"
)

// Error codes reported in the errors array alongside the rule
// validation codes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBodyTooLarge       = "BODY_TOO_LARGE"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Errors  []ErrorDetail `json:"errors,omitempty"`
}

// ErrorDetail describes one problem with a request.
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// badRequestError marks client mistakes detected by the handlers.
type badRequestError struct {
	field string
	msg   string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(field, msg string) error {
	return &badRequestError{field: field, msg: msg}
}

// writeError maps err onto a status code and error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bad      *badRequestError
		notFound *registry.NotFoundError
		conflict *service.ConflictError
		invalid  *rules.ValidationError
		tooLarge *http.MaxBytesError
		unavail  *store.UnavailableError
		query    *audit.QueryError
	)

	switch {
	case errors.As(err, &tooLarge):
		s.writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, "request body too large", CodeBodyTooLarge, "")
	case errors.As(err, &bad):
		s.writeErrorResponse(w, r, http.StatusBadRequest, bad.msg, CodeInvalidRequest, bad.field)
	case errors.As(err, &query):
		s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), CodeInvalidRequest, "")
	case errors.Is(err, pipeline.ErrInvalidContext):
		s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), CodeInvalidRequest, "transaction")
	case errors.As(err, &notFound):
		s.writeErrorResponse(w, r, http.StatusNotFound, err.Error(), CodeNotFound, "id")
	case errors.As(err, &conflict):
		s.writeErrorResponse(w, r, http.StatusConflict, err.Error(), CodeAlreadyExists, "id")
	case errors.As(err, &invalid):
		resp := ErrorResponse{Message: "rule validation failed"}
		for _, fe := range invalid.Errors {
			resp.Errors = append(resp.Errors, ErrorDetail{Field: fe.Field, Message: fe.Message, Code: fe.Code})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &unavail):
		s.logger.ErrorContext(r.Context(), "store unavailable", "error", err)
		s.writeErrorResponse(w, r, http.StatusServiceUnavailable, "rule store unavailable", CodeBackendUnavailable, "")
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "error", err)
		s.writeErrorResponse(w, r, http.StatusInternalServerError, "an internal error occurred", CodeInternal, "")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, _ *http.Request, status int, msg, code, field string) {
	writeJSON(w, status, ErrorResponse{
		Message: msg,
		Errors:  []ErrorDetail{{Field: field, Message: msg, Code: code}},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

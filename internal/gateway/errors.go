package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/executor"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/shared"
)

// Error codes of the uniform envelope.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeAuthentication     = "AUTHENTICATION_ERROR"
	CodeAuthorization      = "AUTHORIZATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

const (
	msgInternal     = "An unexpected error occurred"
	msgUnauthorized = "Not authenticated"
	msgBadToken     = "Invalid or expired token"
	msgForbidden    = "Not authorized to access this resource"
	msgTaskNotFound = "Task not found"
)

// FieldDetail points a validation failure at one input field.
type FieldDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []FieldDetail `json:"details"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details ...FieldDetail) {
	if details == nil {
		details = []FieldDetail{}
	}
	if id := shared.TraceID(r.Context()); id != "" && w.Header().Get("X-Request-ID") == "" {
		w.Header().Set("X-Request-ID", id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorPayload{Code: code, Message: message, Details: details}})
}

// writeInternal logs err in full and returns the opaque 500 body.
func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		"method", r.Method, "path", r.URL.Path, "trace_id", shared.TraceID(r.Context()), "error", err)
	writeError(w, r, http.StatusInternalServerError, CodeInternal, msgInternal)
}

// writeDomainError maps store, auth, chat and executor errors to the
// envelope. Anything unrecognised is an opaque 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErr *auth.FieldError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &fieldErr):
		writeError(w, r, http.StatusBadRequest, CodeValidation, "Validation failed",
			FieldDetail{Field: fieldErr.Field, Message: fieldErr.Message})
	case errors.As(err, &maxBytes):
		writeError(w, r, http.StatusRequestEntityTooLarge, CodeValidation, "Request body too large")
	case errors.Is(err, persistence.ErrInvalidTitle):
		writeError(w, r, http.StatusBadRequest, CodeValidation, "Validation failed",
			FieldDetail{Field: "title", Message: "Title must be 1-500 characters"})
	case errors.Is(err, chat.ErrInvalidMessage):
		writeError(w, r, http.StatusBadRequest, CodeValidation, "Validation failed",
			FieldDetail{Field: "message", Message: "Message must be non-empty and at most 10000 characters"})
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, r, http.StatusNotFound, CodeNotFound, msgTaskNotFound)
	case errors.Is(err, persistence.ErrForbidden), errors.Is(err, executor.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, CodeAuthorization, msgForbidden)
	case errors.Is(err, persistence.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, CodeConflict, "Email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, CodeAuthentication, "Invalid email or password")
	default:
		s.writeInternal(w, r, err)
	}
}

// decodeJSON reads a JSON body into dst. A malformed body is a validation
// error written to w; the return reports whether decoding succeeded.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeDomainError(w, r, err)
			return false
		}
		writeError(w, r, http.StatusBadRequest, CodeValidation, "Invalid JSON body")
		return false
	}
	return true
}

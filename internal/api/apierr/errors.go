package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/partylobby/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes owned by the HTTP surface. Domain errors use model codes.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeMissingIdentity = "MISSING_IDENTITY"
	CodeInternalError   = model.CodeInternalError
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	if !model.IsExpected(err) {
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}

	apiError := APIError{Code: model.ErrorCode(err), Message: err.Error()}

	// Precise reasons first, then the error kind
	switch {
	case errors.Is(err, model.ErrNotHost):
		return &httpError{http.StatusForbidden, apiError}
	case errors.Is(err, model.ErrChatRateLimited):
		return &httpError{http.StatusTooManyRequests, apiError}
	case errors.Is(err, model.ErrNotFound):
		return &httpError{http.StatusNotFound, apiError}
	case errors.Is(err, model.ErrRejected):
		return &httpError{http.StatusConflict, apiError}
	case errors.Is(err, model.ErrInvalidInput):
		return &httpError{http.StatusBadRequest, apiError}
	case errors.Is(err, model.ErrCapacityExceeded):
		return &httpError{http.StatusServiceUnavailable, apiError}
	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewMissingIdentityError is returned when a call needs a player id and none was sent
func NewMissingIdentityError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeMissingIdentity, "X-Player-ID header required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}

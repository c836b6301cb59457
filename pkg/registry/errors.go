package registry

import "net/http"

// APIError is the registry's domain error type: InvalidRequest,
// Unauthorized, Forbidden, or Internal, each mapped to an HTTP status code.
type APIError struct {
	status  int
	message string
}

func (e *APIError) Error() string { return e.message }

// StatusCode returns the HTTP status this error maps to.
func (e *APIError) StatusCode() int { return e.status }

func InvalidRequest(msg string) *APIError {
	return &APIError{status: http.StatusBadRequest, message: msg}
}

func Unauthorized(msg string) *APIError {
	return &APIError{status: http.StatusUnauthorized, message: msg}
}

func Forbidden(msg string) *APIError {
	return &APIError{status: http.StatusForbidden, message: msg}
}

func Internal(msg string) *APIError {
	return &APIError{status: http.StatusInternalServerError, message: msg}
}

// ErrNotFound is returned by the store lookup path when an instance has no
// registry entry. Mapped to InvalidRequest (HTTP 400) rather than 404,
// an unconventional but deliberate choice kept for wire compatibility
// with existing clients (see DESIGN.md).
var ErrNotFound = InvalidRequest("instance not found")

// Package identity implements the per-enclave identity service: instance
// key custody, the operator -> owner -> configure -> expose lifecycle
// state machine, encrypted storage mount, workload container supervision,
// and the owner SSH shell.
package identity

import "net/http"

// APIError is the identity service's domain error type: InvalidRequest,
// Unauthorized, Internal, or Registry (the registry push failed).
type APIError struct {
	status  int
	message string
}

func (e *APIError) Error() string   { return e.message }
func (e *APIError) StatusCode() int { return e.status }

func InvalidRequest(msg string) *APIError {
	return &APIError{status: http.StatusBadRequest, message: msg}
}

func Unauthorized(msg string) *APIError {
	return &APIError{status: http.StatusUnauthorized, message: msg}
}

func Internal(msg string) *APIError {
	return &APIError{status: http.StatusInternalServerError, message: msg}
}

// Registry errors are reported to callers as 400s, the same bucket as
// InvalidRequest: the identity service has no separate HTTP status for
// "downstream registry failed".
func Registry(msg string) *APIError {
	return &APIError{status: http.StatusBadRequest, message: msg}
}

package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequestValidator validates incoming requests before they reach a handler.
// Implementations can check tokens, rate limits, source addresses, etc.
type RequestValidator interface {
	// ValidateRequest returns nil to allow the request, or an error to
	// reject it. A *ValidationError controls the response code.
	ValidateRequest(r *http.Request) error
}

// ValidationError represents a validation failure with structured info.
type ValidationError struct {
	Code    string // Machine-readable error code (e.g., "UNAUTHORIZED")
	Message string // Human-readable message
	Status  int
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string, status int) *ValidationError {
	return &ValidationError{Code: code, Message: message, Status: status}
}

// BearerToken accepts requests carrying "Authorization: Bearer <token>".
type BearerToken string

func (t BearerToken) ValidateRequest(r *http.Request) error {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || got == "" {
		return NewValidationError("UNAUTHORIZED", "missing bearer token", http.StatusUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(t)) != 1 {
		return NewValidationError("FORBIDDEN", "invalid token", http.StatusForbidden)
	}
	return nil
}

// Package errors defines unified error types for conversation engine operations.
// Provider-specific failures are mapped to these standard error types so
// callers can decide which failures surface to the user and which degrade
// silently.
package errors

import (
	"fmt"
	"net/http"
)

// TurnError represents a standardized error from the turn pipeline.
// It contains everything needed for error handling, logging, and an HTTP
// response to the waiting client.
type TurnError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
			e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *TurnError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeRateLimit          = "rate_limit_error"
	TypeAccessDenied       = "access_denied_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeProvider           = "provider_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

// NewRateLimitError creates a rate limit error (429). The daily budget is
// exhausted; retrying today will not help, but the condition is transient.
func NewRateLimitError(message string) *TurnError {
	return &TurnError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Retryable:  true,
	}
}

// NewAccessDeniedError creates an access denied error (403).
func NewAccessDeniedError(message string) *TurnError {
	return &TurnError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Type:       TypeAccessDenied,
		Retryable:  false,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(message string) *TurnError {
	return &TurnError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Retryable:  false,
	}
}

// NewProviderError creates an upstream provider error. The status code of the
// upstream response is preserved when known.
func NewProviderError(provider, model, message string, statusCode int) *TurnError {
	if statusCode == 0 {
		statusCode = http.StatusBadGateway
	}
	return &TurnError{
		StatusCode: statusCode,
		Message:    message,
		Type:       TypeProvider,
		Provider:   provider,
		Model:      model,
		Retryable:  statusCode == http.StatusTooManyRequests || statusCode >= 500,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *TurnError {
	return &TurnError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *TurnError {
	return &TurnError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal error (500).
func NewInternalError(message string) *TurnError {
	return &TurnError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Retryable:  false,
	}
}

// Package errs defines the gateway's operational error taxonomy. Failures are
// tagged variants carrying a kind, an HTTP status, and optional structured
// details, compared structurally via KindOf rather than by concrete type.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates the failure categories surfaced to callers.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindFileType          Kind = "file_type"
	KindAuthentication    Kind = "authentication"
	KindRateLimit         Kind = "rate_limit"
	KindUpstreamTerminal  Kind = "upstream_terminal"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// Violation records a single field-level validation failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the uniform failure value exchanged between pipeline stages.
type Error struct {
	Kind      Kind
	Status    int
	Message   string
	Details   map[string]interface{}
	Timestamp time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, status int, message string, details map[string]interface{}) *Error {
	return &Error{
		Kind:      kind,
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Validation aggregates field violations into a single 400 error. The caller
// collects every violation before constructing it; validation never
// short-circuits on the first failure.
func Validation(message string, violations []Violation) *Error {
	details := map[string]interface{}{}
	if len(violations) > 0 {
		details["violations"] = violations
	}
	return newError(KindValidation, http.StatusBadRequest, message, details)
}

// FileType reports an upload whose content type is not accepted.
func FileType(message string) *Error {
	return newError(KindFileType, http.StatusBadRequest, message, nil)
}

// Authentication reports a bad or unknown credential.
func Authentication(message string, details map[string]interface{}) *Error {
	return newError(KindAuthentication, http.StatusUnauthorized, message, details)
}

// RateLimit reports a client that exceeded its request budget.
func RateLimit(message string, details map[string]interface{}) *Error {
	return newError(KindRateLimit, http.StatusTooManyRequests, message, details)
}

// UpstreamTerminal wraps a rejection from the media platform that retrying
// cannot fix. The upstream status and message are surfaced to the caller.
func UpstreamTerminal(status int, message string, details map[string]interface{}) *Error {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return newError(KindUpstreamTerminal, status, message, details)
}

// UpstreamTransient reports a transient upstream failure that persisted
// through every retry attempt.
func UpstreamTransient(message string, details map[string]interface{}) *Error {
	return newError(KindUpstreamTransient, http.StatusServiceUnavailable, message, details)
}

// Unavailable reports a dependency outage that is not the caller's fault.
func Unavailable(message string) *Error {
	return newError(KindUnavailable, http.StatusServiceUnavailable, message, nil)
}

// Internal represents an unexpected failure. The message is a fixed generic
// string; whatever went wrong is logged server-side, never sent to callers.
func Internal() *Error {
	return newError(KindInternal, http.StatusInternalServerError, "an unexpected error occurred", nil)
}

// KindOf extracts the taxonomy kind from err, or KindInternal when err is not
// an operational gateway error.
func KindOf(err error) Kind {
	var gatewayErr *Error
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Kind
	}
	return KindInternal
}

// AsError unwraps err into an *Error when it carries one.
func AsError(err error) (*Error, bool) {
	var gatewayErr *Error
	if errors.As(err, &gatewayErr) {
		return gatewayErr, true
	}
	return nil, false
}

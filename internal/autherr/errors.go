// Package autherr defines the error taxonomy shared by the authentication
// flows. Services return typed errors so handlers map them to HTTP statuses
// in one place and cannot accidentally swallow a security-relevant failure.
package autherr

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifies an authentication error.
type Kind int

const (
	// KindValidation covers malformed or incomplete input.
	KindValidation Kind = iota
	// KindAuthentication covers bad credentials and unknown accounts. The
	// message is intentionally generic to prevent account enumeration.
	KindAuthentication
	// KindAuthorization covers locked and suspended accounts. The message may
	// disclose the remaining lock duration but never the underlying cause.
	KindAuthorization
	// KindRateLimited covers throttled requests.
	KindRateLimited
	// KindInfrastructure covers store and database failures on auth-critical
	// paths, which fail closed.
	KindInfrastructure
)

// Error is the boundary error type for the auth services.
type Error struct {
	Kind    Kind
	Message string
	ResetAt *time.Time
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return e.Message + ": " + e.wrapped.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a malformed-input error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Authentication builds a generic credential failure.
func Authentication(msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

// Authorization builds a locked/suspended account error.
func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

// RateLimited builds a throttled error carrying the counter expiry.
func RateLimited(msg string, resetAt *time.Time) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, ResetAt: resetAt}
}

// Infrastructure wraps a store failure. The wrapped error is kept for logs
// and audit detail; clients only ever see the generic message.
func Infrastructure(err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: "Internal server error.", wrapped: err}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	authErr, ok := As(err)
	return ok && authErr.Kind == kind
}

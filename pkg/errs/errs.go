// Package errs defines the error taxonomy shared across the service.
//
// Every error that crosses a package boundary wraps one of the kind
// sentinels below, so callers branch with errors.Is and the HTTP layer
// maps kinds to status codes. Validation errors additionally carry a
// machine code (e.g. "billing_period_overlap") surfaced verbatim in the
// JSON error body.
package errs

import (
	"errors"
	"fmt"
)

// Kind sentinels. Every service error wraps exactly one of these.
var (
	// ErrValidation is returned when the caller supplied invalid data.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced entity does not exist or
	// is not owned by the caller. The two cases are indistinguishable on
	// purpose; ownership is never leaked.
	ErrNotFound = errors.New("not found")

	// ErrAuth is returned when credentials are missing or invalid.
	ErrAuth = errors.New("authentication required")

	// ErrConflict is returned on invariant violations such as classifying
	// to an archived project or an illegal invoice status transition.
	ErrConflict = errors.New("conflict")

	// ErrInternal is returned for unrecoverable failures.
	ErrInternal = errors.New("internal error")
)

// Provider error classes returned by the calendar provider adapter.
// All wrap ErrExternal so callers can match the family or the class.
var (
	// ErrExternal is the family sentinel for provider failures.
	ErrExternal = errors.New("provider error")

	// ErrTokenExpired means the access token expired; a refresh resolves it.
	ErrTokenExpired = errors.New("provider token expired")

	// ErrTokenRevoked means the grant was revoked; the calendar needs re-auth.
	ErrTokenRevoked = errors.New("provider token revoked")

	// ErrSyncTokenInvalid means the incremental sync token was rejected;
	// the caller must fall back to a full window fetch.
	ErrSyncTokenInvalid = errors.New("sync token invalid")

	// ErrRateLimited means the provider asked us to back off.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrTransient is a retryable provider or network failure.
	ErrTransient = errors.New("transient provider failure")

	// ErrPermanent is a non-retryable provider failure; the job fails.
	ErrPermanent = errors.New("permanent provider failure")
)

// Error is a kind-wrapped error with an optional machine code.
type Error struct {
	kind error  // one of the sentinels above
	code string // machine code for validation errors, "" otherwise
	msg  string
	err  error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e.err != nil {
		return e.err
	}
	return e.kind
}

// Is matches the kind sentinel (and, for provider classes, ErrExternal).
func (e *Error) Is(target error) bool {
	if target == e.kind {
		return true
	}
	if target == ErrExternal && isProviderClass(e.kind) {
		return true
	}
	return false
}

func isProviderClass(kind error) bool {
	switch kind {
	case ErrTokenExpired, ErrTokenRevoked, ErrSyncTokenInvalid,
		ErrRateLimited, ErrTransient, ErrPermanent:
		return true
	}
	return false
}

// Code returns the machine code carried by err, or "" if none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

// Validation returns a validation error carrying a machine code.
func Validation(code, format string, args ...any) error {
	return &Error{kind: ErrValidation, code: code, msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error for the named entity.
func NotFound(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Auth returns an authentication error.
func Auth(format string, args ...any) error {
	return &Error{kind: ErrAuth, msg: fmt.Sprintf(format, args...)}
}

// Conflict returns a conflict error.
func Conflict(format string, args ...any) error {
	return &Error{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unrecoverable failure.
func Internal(msg string, err error) error {
	return &Error{kind: ErrInternal, msg: msg, err: err}
}

// External wraps a provider failure under the given class sentinel.
// The class must be one of the provider class sentinels; anything else
// is coerced to ErrPermanent.
func External(class error, msg string, err error) error {
	if !isProviderClass(class) {
		class = ErrPermanent
	}
	return &Error{kind: class, msg: msg, err: err}
}

// Retryable reports whether a provider failure should be retried by
// re-enqueueing the job (transient and rate-limit classes).
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// Package operr defines the error taxonomy shared by every tally service.
//
// Each failure carries a stable operation name plus one of the sentinel kinds
// from kinds.go, so HTTP mapping and tests never match on message text. Errors
// that are none of the kinds are infrastructure failures (store unavailable,
// timeout) and map to 5xx.
package operr

import (
	"errors"
	"fmt"
	"time"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind MUST be one of the sentinel kinds when applicable. Msg may include
// human-readable context; never include secrets or token material.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness conflict for a specific logical field.
// Field should be a stable logical name: "email", "token", ...
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row or a missing referenced resource.
// Soft-deleted resources report the same error as absent ones.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// RateLimitedError reports a rejected request together with the time until the
// current window resets. RetryAfter is rounded up to whole seconds on the wire.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %v: retry after %s", e.Op, ErrRateLimited, e.RetryAfter)
}

func (e RateLimitedError) Unwrap() error { return ErrRateLimited }

// IsConflict reports whether err is a ConflictError or wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsNotAuthenticated reports whether err represents ErrNotAuthenticated.
func IsNotAuthenticated(err error) bool { return errors.Is(err, ErrNotAuthenticated) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsRateLimited reports whether err represents ErrRateLimited.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

package operr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestOpErrorUnwrapsKind(t *testing.T) {
	err := OpError{Op: "session.Refresh", Kind: ErrNotAuthenticated}
	if !IsNotAuthenticated(err) {
		t.Fatalf("expected not_authenticated kind, got %v", err)
	}
	if IsNotFound(err) {
		t.Fatalf("kind must not match not_found: %v", err)
	}
}

func TestOpErrorMessage(t *testing.T) {
	err := OpError{Op: "expense.Create", Kind: ErrInvalidInput, Msg: "amount must be positive"}
	want := "expense.Create: invalid_input: amount must be positive"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestConflictErrorMatchesThroughWrap(t *testing.T) {
	err := fmt.Errorf("register: %w", ConflictError{Op: "identity.CreateUser", Field: "email"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict through wrap, got %v", err)
	}
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("expected field email, got %+v", ce)
	}
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError{Op: "expense.Get", Resource: "expense"}
	if !IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestRateLimitedErrorCarriesRetryAfter(t *testing.T) {
	err := RateLimitedError{Op: "ratelimit.Allow", RetryAfter: 42 * time.Second}
	if !IsRateLimited(err) {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	var rle RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitedError, got %T", err)
	}
	if rle.RetryAfter != 42*time.Second {
		t.Fatalf("unexpected retry-after: %s", rle.RetryAfter)
	}
}

package session

import (
	"context"
	"time"
)

// Record is one session row. Under the single-active-session policy at most
// one record exists per user; the store does not enforce that itself, the
// Manager does by deleting prior rows before each insert.
type Record struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Store abstracts session persistence.
//
// Rotate is the contract's one serialization point: delete the row matching
// oldTokenHash and insert next in a single atomic step. When the delete
// matches nothing (already rotated, revoked, or never issued) the rotation
// fails with ErrSessionNotFound and next is NOT inserted. When the matched
// row is already expired the row is removed and the rotation fails with
// ErrSessionExpired. Two concurrent Rotate calls with the same oldTokenHash
// therefore produce exactly one winner.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, rec Record) error

	// FindByTokenHash loads the session row holding tokenHash.
	// Missing row yields ErrSessionNotFound.
	FindByTokenHash(ctx context.Context, tokenHash string) (Record, error)

	// HasLiveSession reports whether the user has a session row that has not
	// expired at time now.
	HasLiveSession(ctx context.Context, userID string, now time.Time) (bool, error)

	// DeleteByTokenHash removes the row holding tokenHash. Idempotent.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteAllForUser removes every session row of the user and reports how
	// many were removed. Idempotent.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// Rotate atomically replaces the row matching oldTokenHash with next.
	Rotate(ctx context.Context, now time.Time, oldTokenHash string, next Record) error

	// DeleteExpired removes rows whose expiry is at or before now and
	// reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

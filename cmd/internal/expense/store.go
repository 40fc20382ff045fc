package expense

import (
	"context"
	"time"
)

// Ownership is the minimal projection used for access checks. It is fetched
// for mutations before any row is touched.
type Ownership struct {
	OwnerID string
	Deleted bool
}

// Store abstracts expense persistence.
//
// Every read filters soft-deleted rows except GetOwnership, which reports
// the lifecycle state so the guard can fold "deleted" into "not found".
// Missing rows yield operr NotFound.
type Store interface {
	// Create inserts a new expense row.
	Create(ctx context.Context, e Expense) error

	// GetByID loads a live expense.
	GetByID(ctx context.Context, id string) (Expense, error)

	// GetOwnership loads the access-check projection, deleted rows included.
	GetOwnership(ctx context.Context, id string) (Ownership, error)

	// Update rewrites the mutable fields of a live expense and returns the
	// stored result.
	Update(ctx context.Context, e Expense) (Expense, error)

	// SoftDelete marks a live expense deleted at time now. Deleting an
	// absent or already-deleted row yields NotFound.
	SoftDelete(ctx context.Context, id string, now time.Time) error

	// List returns live expenses matching q, newest first (SpentAt
	// descending, ID descending as the tiebreak).
	List(ctx context.Context, q Query) ([]Expense, error)

	// Summarize aggregates the owner's live expenses inside the range.
	Summarize(ctx context.Context, q SummaryQuery) (Summary, error)
}

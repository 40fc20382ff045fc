package expense

import (
	"context"
	"sort"
	"sync"
	"time"

	"tally/cmd/internal/operr"
)

// MemoryStore is an in-memory Store for dev mode and tests. One mutex
// serializes every operation.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Expense
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Expense)}
}

// Create inserts a new expense row.
func (s *MemoryStore) Create(ctx context.Context, e Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; exists {
		return operr.ConflictError{Op: "expense.Create", Field: "id"}
	}
	s.byID[e.ID] = cloneExpense(e)
	return nil
}

// GetByID loads a live expense.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (Expense, error) {
	const op = "expense.GetByID"

	if err := ctx.Err(); err != nil {
		return Expense{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok || e.DeletedAt != nil {
		return Expense{}, operr.NotFoundError{Op: op, Resource: "expense"}
	}
	return cloneExpense(e), nil
}

// GetOwnership loads the access-check projection, deleted rows included.
func (s *MemoryStore) GetOwnership(ctx context.Context, id string) (Ownership, error) {
	const op = "expense.GetOwnership"

	if err := ctx.Err(); err != nil {
		return Ownership{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return Ownership{}, operr.NotFoundError{Op: op, Resource: "expense"}
	}
	return Ownership{OwnerID: e.OwnerID, Deleted: e.DeletedAt != nil}, nil
}

// Update rewrites the mutable fields of a live expense.
func (s *MemoryStore) Update(ctx context.Context, e Expense) (Expense, error) {
	const op = "expense.Update"

	if err := ctx.Err(); err != nil {
		return Expense{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[e.ID]
	if !ok || cur.DeletedAt != nil {
		return Expense{}, operr.NotFoundError{Op: op, Resource: "expense"}
	}

	cur.AmountCents = e.AmountCents
	cur.Currency = e.Currency
	cur.Category = e.Category
	cur.Note = e.Note
	cur.SpentAt = e.SpentAt
	cur.UpdatedAt = e.UpdatedAt
	s.byID[e.ID] = cloneExpense(cur)
	return cloneExpense(cur), nil
}

// SoftDelete marks a live expense deleted at time now.
func (s *MemoryStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	const op = "expense.SoftDelete"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok || e.DeletedAt != nil {
		return operr.NotFoundError{Op: op, Resource: "expense"}
	}

	at := now
	e.DeletedAt = &at
	e.UpdatedAt = now
	s.byID[id] = e
	return nil
}

// List returns live expenses matching q, newest first.
func (s *MemoryStore) List(ctx context.Context, q Query) ([]Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]Expense, 0)
	for _, e := range s.byID {
		if q.matches(e) {
			matched = append(matched, cloneExpense(e))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.SpentAt.Equal(b.SpentAt) {
			return a.SpentAt.After(b.SpentAt)
		}
		return a.ID > b.ID
	})

	if q.Offset >= len(matched) {
		return []Expense{}, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Summarize aggregates the owner's live expenses inside the range.
func (s *MemoryStore) Summarize(ctx context.Context, q SummaryQuery) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filter := Query{OwnerID: q.OwnerID, From: q.From, To: q.To}
	rows := make([]Expense, 0)
	for _, e := range s.byID {
		if filter.matches(e) {
			rows = append(rows, e)
		}
	}
	return summarize(rows), nil
}

// Len reports the number of rows, deleted included. For tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// cloneExpense deep-copies the pointer fields so callers cannot mutate
// stored rows through them.
func cloneExpense(e Expense) Expense {
	if e.Note != nil {
		n := *e.Note
		e.Note = &n
	}
	if e.DeletedAt != nil {
		d := *e.DeletedAt
		e.DeletedAt = &d
	}
	return e
}

var _ Store = (*MemoryStore)(nil)

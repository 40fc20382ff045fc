package expense

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tally/cmd/identity/ids"
	"tally/cmd/internal/operr"
)

// Service owns the expense business rules: validation, ownership
// enforcement, soft deletion, and change notification.
type Service struct {
	store    Store
	log      *slog.Logger
	notifier Notifier
}

// NewService constructs a Service. notifier may be nil; mutations then go
// unannounced, which is how tests and the migrate tool run.
func NewService(store Store, log *slog.Logger, notifier Notifier) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("expense: nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, notifier: notifier}, nil
}

// Create validates and inserts a new expense owned by ownerID.
func (s *Service) Create(ctx context.Context, now time.Time, ownerID string, in CreateInput) (Expense, error) {
	const op = "expense.Create"

	if err := ctx.Err(); err != nil {
		return Expense{}, err
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Expense{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing owner"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	currency, category, note, err := validateFields(op, in.AmountCents, in.Currency, in.Category, in.Note, in.SpentAt)
	if err != nil {
		return Expense{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Expense{}, err
	}

	e := Expense{
		ID:          id,
		OwnerID:     ownerID,
		AmountCents: in.AmountCents,
		Currency:    currency,
		Category:    category,
		Note:        note,
		SpentAt:     in.SpentAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return Expense{}, err
	}

	s.log.Info("expense.created",
		"expense_id", e.ID,
		"owner_id", e.OwnerID,
		"amount_cents", e.AmountCents,
		"currency", e.Currency,
	)
	s.notify(EventCreated, e)
	return e, nil
}

// Get returns the caller's live expense. Foreign ownership yields Forbidden;
// the API layer folds that into the canonical not-found response.
func (s *Service) Get(ctx context.Context, principalID, id string) (Expense, error) {
	const op = "expense.Get"

	if err := ctx.Err(); err != nil {
		return Expense{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Expense{}, operr.NotFoundError{Op: op, Resource: "expense"}
	}

	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if e.OwnerID != principalID {
		s.log.Warn("expense.ownership.denied", "expense_id", id, "principal_id", principalID)
		return Expense{}, operr.OpError{Op: op, Kind: operr.ErrForbidden, Msg: "not the owner"}
	}
	return e, nil
}

// Update replaces the mutable fields of the caller's live expense.
func (s *Service) Update(ctx context.Context, now time.Time, principalID, id string, in UpdateInput) (Expense, error) {
	const op = "expense.Update"

	if err := ctx.Err(); err != nil {
		return Expense{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Expense{}, operr.NotFoundError{Op: op, Resource: "expense"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	currency, category, note, err := validateFields(op, in.AmountCents, in.Currency, in.Category, in.Note, in.SpentAt)
	if err != nil {
		return Expense{}, err
	}

	if err := s.AuthorizeOwnership(ctx, principalID, id); err != nil {
		return Expense{}, err
	}

	out, err := s.store.Update(ctx, Expense{
		ID:          id,
		AmountCents: in.AmountCents,
		Currency:    currency,
		Category:    category,
		Note:        note,
		SpentAt:     in.SpentAt.UTC(),
		UpdatedAt:   now,
	})
	if err != nil {
		return Expense{}, err
	}

	s.log.Info("expense.updated", "expense_id", out.ID, "owner_id", out.OwnerID)
	s.notify(EventUpdated, out)
	return out, nil
}

// Delete soft-deletes the caller's live expense.
func (s *Service) Delete(ctx context.Context, now time.Time, principalID, id string) error {
	const op = "expense.Delete"

	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return operr.NotFoundError{Op: op, Resource: "expense"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if err := s.AuthorizeOwnership(ctx, principalID, id); err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, id, now); err != nil {
		return err
	}

	s.log.Info("expense.deleted", "expense_id", id, "owner_id", principalID)
	at := now
	s.notify(EventDeleted, Expense{
		ID:        id,
		OwnerID:   principalID,
		UpdatedAt: now,
		DeletedAt: &at,
	})
	return nil
}

// List returns the caller's live expenses, newest first. The query's owner
// is always overwritten with the authenticated principal.
func (s *Service) List(ctx context.Context, principalID string, q Query) ([]Expense, error) {
	const op = "expense.List"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing owner"}
	}

	q.OwnerID = principalID
	return s.store.List(ctx, q.normalized())
}

// Summarize aggregates the caller's live expenses across the optional
// inclusive SpentAt range.
func (s *Service) Summarize(ctx context.Context, principalID string, from, to *time.Time) (Summary, error) {
	const op = "expense.Summarize"

	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Summary{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing owner"}
	}

	return s.store.Summarize(ctx, SummaryQuery{OwnerID: principalID, From: from, To: to})
}

func (s *Service) notify(kind string, e Expense) {
	if s.notifier == nil {
		return
	}
	s.notifier.ExpenseChanged(kind, e)
}

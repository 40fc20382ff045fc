package expense

import (
	"context"

	"tally/cmd/internal/operr"
)

// AuthorizeOwnership confirms that principalID may mutate expense
// expenseID. Absent and soft-deleted rows yield NotFound. A live row owned
// by someone else yields Forbidden and logs the attempt; callers present
// Forbidden as the canonical not-found response so foreign IDs are
// indistinguishable from missing ones.
func (s *Service) AuthorizeOwnership(ctx context.Context, principalID, expenseID string) error {
	const op = "expense.AuthorizeOwnership"

	if err := ctx.Err(); err != nil {
		return err
	}

	own, err := s.store.GetOwnership(ctx, expenseID)
	if err != nil {
		return err
	}
	if own.Deleted {
		return operr.NotFoundError{Op: op, Resource: "expense"}
	}
	if own.OwnerID != principalID {
		s.log.Warn("expense.ownership.denied", "expense_id", expenseID, "principal_id", principalID)
		return operr.OpError{Op: op, Kind: operr.ErrForbidden, Msg: "not the owner"}
	}
	return nil
}

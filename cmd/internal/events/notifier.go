package events

import (
	"encoding/json"
	"time"

	"tally/cmd/internal/expense"

	v1 "tally/shared/contracts/events/v1"
)

// ExpenseNotifier bridges the expense service to the feed hub: every
// successful mutation becomes a wire envelope published to the owner's
// connected clients. It implements expense.Notifier and never blocks.
type ExpenseNotifier struct {
	hub *Hub
}

var _ expense.Notifier = (*ExpenseNotifier)(nil)

// NewExpenseNotifier constructs a notifier publishing to hub.
func NewExpenseNotifier(hub *Hub) *ExpenseNotifier {
	return &ExpenseNotifier{hub: hub}
}

// ExpenseChanged translates a domain change into an envelope and fans it out.
// Unknown kinds are ignored.
func (n *ExpenseNotifier) ExpenseChanged(kind string, e expense.Expense) {
	if n == nil || n.hub == nil || e.OwnerID == "" {
		return
	}

	now := time.Now().UTC()

	var (
		typ     string
		payload any
	)
	switch kind {
	case expense.EventCreated:
		typ = v1.TypeExpenseCreated
		payload = expenseBody(e)
	case expense.EventUpdated:
		typ = v1.TypeExpenseUpdated
		payload = expenseBody(e)
	case expense.EventDeleted:
		deletedAt := now
		if e.DeletedAt != nil {
			deletedAt = e.DeletedAt.UTC()
		}
		typ = v1.TypeExpenseDeleted
		payload = v1.ExpenseDeletedPayload{ID: e.ID, DeletedAt: deletedAt}
	default:
		return
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return
	}

	n.hub.Publish(e.OwnerID, newEnvelope(typ, b, now))
}

func expenseBody(e expense.Expense) v1.ExpensePayload {
	var note *string
	if e.Note != nil {
		v := *e.Note
		note = &v
	}
	return v1.ExpensePayload{
		ID:          e.ID,
		AmountCents: e.AmountCents,
		Currency:    e.Currency,
		Category:    e.Category,
		Note:        note,
		SpentAt:     e.SpentAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

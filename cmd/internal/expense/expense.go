package expense

import (
	"strings"
	"time"
	"unicode/utf8"

	"tally/cmd/internal/operr"
)

// Limits on free-text fields and list pagination.
const (
	MaxCategoryLen = 64
	MaxNoteLen     = 512

	MinLimit     = 1
	MaxLimit     = 200
	DefaultLimit = 50
)

// Event kinds emitted through the Notifier after successful mutations.
const (
	EventCreated = "expense.created"
	EventUpdated = "expense.updated"
	EventDeleted = "expense.deleted"
)

// Expense is one money record. Amounts are integer cents; floats never
// touch the money path. A non-nil DeletedAt marks the row soft-deleted and
// invisible to every read and report.
type Expense struct {
	ID          string
	OwnerID     string
	AmountCents int64
	Currency    string
	Category    string
	Note        *string
	SpentAt     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// CreateInput carries the client-writable fields of a new expense. The
// owner is never part of the input; it is always the authenticated
// principal.
type CreateInput struct {
	AmountCents int64
	Currency    string
	Category    string
	Note        *string
	SpentAt     time.Time
}

// UpdateInput carries the full replacement state for an existing expense.
type UpdateInput struct {
	AmountCents int64
	Currency    string
	Category    string
	Note        *string
	SpentAt     time.Time
}

// Query carries the list filters handed to the store. OwnerID is
// mandatory and always overwritten with the authenticated principal by the
// service. From and To bound SpentAt inclusively.
type Query struct {
	OwnerID  string
	Category *string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// normalized clamps pagination into [MinLimit, MaxLimit] with DefaultLimit
// when unset, and trims the optional category filter.
func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit < MinLimit {
		q.Limit = MinLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Category != nil {
		c := strings.TrimSpace(*q.Category)
		if c == "" {
			q.Category = nil
		} else {
			q.Category = &c
		}
	}
	return q
}

// matches reports whether a live expense satisfies the query filters.
// Pagination is not applied here.
func (q Query) matches(e Expense) bool {
	if e.OwnerID != q.OwnerID || e.DeletedAt != nil {
		return false
	}
	if q.Category != nil && e.Category != *q.Category {
		return false
	}
	if q.From != nil && e.SpentAt.Before(*q.From) {
		return false
	}
	if q.To != nil && e.SpentAt.After(*q.To) {
		return false
	}
	return true
}

// Notifier receives domain change notifications after successful mutations.
// Implementations must not block; the events feed enqueues with
// drop-on-backpressure.
type Notifier interface {
	ExpenseChanged(kind string, e Expense)
}

// validateFields normalizes and checks the client-writable fields shared by
// create and update. Currency is upper-cased; category and note are
// trimmed, with an all-whitespace note treated as absent.
func validateFields(op string, amountCents int64, currency, category string, note *string, spentAt time.Time) (string, string, *string, error) {
	if amountCents <= 0 {
		return "", "", nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "amount_cents must be positive"}
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !currencyIsValid(currency) {
		return "", "", nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "currency must be a 3-letter ISO 4217 code"}
	}

	category = strings.TrimSpace(category)
	if category == "" {
		return "", "", nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "category is required"}
	}
	if utf8.RuneCountInString(category) > MaxCategoryLen {
		return "", "", nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "category too long"}
	}

	note = trimPtr(note)
	if note != nil && utf8.RuneCountInString(*note) > MaxNoteLen {
		return "", "", nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "note too long"}
	}

	if spentAt.IsZero() {
		return "", "", nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "spent_at is required"}
	}

	return currency, category, note, nil
}

// currencyIsValid checks the ISO 4217 shape: exactly three ASCII letters.
func currencyIsValid(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

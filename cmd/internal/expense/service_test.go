package expense

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tally/cmd/internal/operr"
)

type recordedEvent struct {
	kind string
	e    Expense
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) ExpenseChanged(kind string, e Expense) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{kind: kind, e: e})
}

func (n *recordingNotifier) all() []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]recordedEvent, len(n.events))
	copy(out, n.events)
	return out
}

func newServiceFixture(t *testing.T) (*Service, *MemoryStore, *recordingNotifier) {
	t.Helper()

	st := NewMemoryStore()
	n := &recordingNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(st, log, n)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st, n
}

func mustCreate(t *testing.T, svc *Service, now time.Time, ownerID string, in CreateInput) Expense {
	t.Helper()
	e, err := svc.Create(context.Background(), now, ownerID, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}

func TestCreateStoresNormalizedExpense(t *testing.T) {
	t.Parallel()

	svc, st, n := newServiceFixture(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	spent := now.Add(-24 * time.Hour)

	e := mustCreate(t, svc, now, "user-1", CreateInput{
		AmountCents: 1299,
		Currency:    "usd",
		Category:    " food ",
		Note:        strPtr("  lunch  "),
		SpentAt:     spent,
	})

	if e.ID == "" {
		t.Fatalf("empty id")
	}
	if e.OwnerID != "user-1" {
		t.Fatalf("owner = %q", e.OwnerID)
	}
	if e.Currency != "USD" || e.Category != "food" {
		t.Fatalf("normalization: currency=%q category=%q", e.Currency, e.Category)
	}
	if e.Note == nil || *e.Note != "lunch" {
		t.Fatalf("note = %v", e.Note)
	}
	if !e.CreatedAt.Equal(now) || !e.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps: created=%v updated=%v", e.CreatedAt, e.UpdatedAt)
	}
	if st.Len() != 1 {
		t.Fatalf("store rows = %d", st.Len())
	}

	events := n.all()
	if len(events) != 1 || events[0].kind != EventCreated || events[0].e.ID != e.ID {
		t.Fatalf("events = %+v", events)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc, st, _ := newServiceFixture(t)
	now := time.Now().UTC()

	_, err := svc.Create(context.Background(), now, "user-1", CreateInput{
		AmountCents: 0,
		Currency:    "USD",
		Category:    "food",
		SpentAt:     now,
	})
	if !operr.IsInvalidInput(err) {
		t.Fatalf("error = %v, want invalid input", err)
	}

	_, err = svc.Create(context.Background(), now, "", CreateInput{
		AmountCents: 100,
		Currency:    "USD",
		Category:    "food",
		SpentAt:     now,
	})
	if !operr.IsInvalidInput(err) {
		t.Fatalf("missing owner error = %v", err)
	}

	if st.Len() != 0 {
		t.Fatalf("invalid input reached the store")
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	t.Parallel()

	svc, _, _ := newServiceFixture(t)
	now := time.Now().UTC()
	e := mustCreate(t, svc, now, "user-1", CreateInput{
		AmountCents: 100, Currency: "USD", Category: "food", SpentAt: now,
	})

	got, err := svc.Get(context.Background(), "user-1", e.ID)
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if got.ID != e.ID {
		t.Fatalf("got %q", got.ID)
	}

	// A live foreign row is Forbidden internally; the API layer renders it
	// exactly like not-found.
	_, err = svc.Get(context.Background(), "user-2", e.ID)
	if !operr.IsForbidden(err) {
		t.Fatalf("foreign get error = %v, want forbidden", err)
	}

	_, err = svc.Get(context.Background(), "user-1", "01ZZZZZZZZZZZZZZZZZZZZZZZZ")
	if !operr.IsNotFound(err) {
		t.Fatalf("absent get error = %v, want not found", err)
	}
}

func TestUpdateReplacesMutableFields(t *testing.T) {
	t.Parallel()

	svc, _, n := newServiceFixture(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	e := mustCreate(t, svc, created, "user-1", CreateInput{
		AmountCents: 100, Currency: "USD", Category: "food", SpentAt: created,
	})

	newSpent := created.Add(-48 * time.Hour)
	got, err := svc.Update(context.Background(), updated, "user-1", e.ID, UpdateInput{
		AmountCents: 777,
		Currency:    "eur",
		Category:    "travel",
		Note:        strPtr("train"),
		SpentAt:     newSpent,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got.AmountCents != 777 || got.Currency != "EUR" || got.Category != "travel" {
		t.Fatalf("updated fields: %+v", got)
	}
	if got.Note == nil || *got.Note != "train" {
		t.Fatalf("note = %v", got.Note)
	}
	if !got.SpentAt.Equal(newSpent) {
		t.Fatalf("spent_at = %v", got.SpentAt)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(updated) {
		t.Fatalf("timestamps: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
	if got.OwnerID != "user-1" {
		t.Fatalf("owner changed: %q", got.OwnerID)
	}

	events := n.all()
	if len(events) != 2 || events[1].kind != EventUpdated {
		t.Fatalf("events = %+v", events)
	}
}

func TestUpdateGuardsOwnershipAndExistence(t *testing.T) {
	t.Parallel()

	svc, _, _ := newServiceFixture(t)
	now := time.Now().UTC()
	e := mustCreate(t, svc, now, "user-1", CreateInput{
		AmountCents: 100, Currency: "USD", Category: "food", SpentAt: now,
	})

	in := UpdateInput{AmountCents: 200, Currency: "USD", Category: "food", SpentAt: now}

	_, err := svc.Update(context.Background(), now, "user-2", e.ID, in)
	if !operr.IsForbidden(err) {
		t.Fatalf("foreign update error = %v", err)
	}

	_, err = svc.Update(context.Background(), now, "user-1", "01ZZZZZZZZZZZZZZZZZZZZZZZZ", in)
	if !operr.IsNotFound(err) {
		t.Fatalf("absent update error = %v", err)
	}

	// Invalid input is rejected before ownership is probed.
	_, err = svc.Update(context.Background(), now, "user-2", e.ID, UpdateInput{})
	if !operr.IsInvalidInput(err) {
		t.Fatalf("invalid update error = %v", err)
	}
}

func TestDeleteSoftDeletesAndHides(t *testing.T) {
	t.Parallel()

	svc, st, n := newServiceFixture(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := mustCreate(t, svc, now, "user-1", CreateInput{
		AmountCents: 100, Currency: "USD", Category: "food", SpentAt: now,
	})

	if err := svc.Delete(context.Background(), now.Add(time.Minute), "user-1", e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// The row is retained but invisible to reads.
	if st.Len() != 1 {
		t.Fatalf("store rows = %d, want the soft-deleted row kept", st.Len())
	}
	if _, err := svc.Get(context.Background(), "user-1", e.ID); !operr.IsNotFound(err) {
		t.Fatalf("get after delete error = %v", err)
	}
	list, err := svc.List(context.Background(), "user-1", Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("deleted row listed: %+v", list)
	}

	// Repeating the delete finds nothing: deleted folds into not-found.
	if err := svc.Delete(context.Background(), now.Add(2*time.Minute), "user-1", e.ID); !operr.IsNotFound(err) {
		t.Fatalf("second delete error = %v", err)
	}

	events := n.all()
	if len(events) != 2 || events[1].kind != EventDeleted {
		t.Fatalf("events = %+v", events)
	}
	if events[1].e.DeletedAt == nil {
		t.Fatalf("deleted event carries no DeletedAt")
	}
}

func TestDeleteForeignRowForbidden(t *testing.T) {
	t.Parallel()

	svc, st, _ := newServiceFixture(t)
	now := time.Now().UTC()
	e := mustCreate(t, svc, now, "user-1", CreateInput{
		AmountCents: 100, Currency: "USD", Category: "food", SpentAt: now,
	})

	if err := svc.Delete(context.Background(), now, "user-2", e.ID); !operr.IsForbidden(err) {
		t.Fatalf("foreign delete error = %v", err)
	}

	// The row survived.
	if _, err := svc.Get(context.Background(), "user-1", e.ID); err != nil {
		t.Fatalf("row damaged by foreign delete attempt: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("store rows = %d", st.Len())
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	svc, _, _ := newServiceFixture(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Five rows for user-1 across two categories, plus one foreign row.
	for i := 0; i < 5; i++ {
		category := "food"
		if i%2 == 1 {
			category = "travel"
		}
		mustCreate(t, svc, base.Add(time.Duration(i)*time.Minute), "user-1", CreateInput{
			AmountCents: int64(100 * (i + 1)),
			Currency:    "USD",
			Category:    category,
			SpentAt:     base.AddDate(0, 0, i),
		})
	}
	mustCreate(t, svc, base, "user-2", CreateInput{
		AmountCents: 9999, Currency: "USD", Category: "food", SpentAt: base.AddDate(0, 0, 2),
	})

	all, err := svc.List(context.Background(), "user-1", Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("rows = %d, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].SpentAt.After(all[i-1].SpentAt) {
			t.Fatalf("not newest first: %v before %v", all[i-1].SpentAt, all[i].SpentAt)
		}
	}
	for _, e := range all {
		if e.OwnerID != "user-1" {
			t.Fatalf("foreign row leaked: %+v", e)
		}
	}

	food, err := svc.List(context.Background(), "user-1", Query{Category: strPtr("food")})
	if err != nil {
		t.Fatalf("List(category): %v", err)
	}
	if len(food) != 3 {
		t.Fatalf("food rows = %d, want 3", len(food))
	}

	from := base.AddDate(0, 0, 1)
	to := base.AddDate(0, 0, 3)
	window, err := svc.List(context.Background(), "user-1", Query{From: &from, To: &to})
	if err != nil {
		t.Fatalf("List(window): %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("window rows = %d, want 3", len(window))
	}

	page, err := svc.List(context.Background(), "user-1", Query{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List(page): %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page rows = %d, want 2", len(page))
	}
	if !page[0].SpentAt.Equal(all[2].SpentAt) {
		t.Fatalf("page starts at %v, want %v", page[0].SpentAt, all[2].SpentAt)
	}

	tail, err := svc.List(context.Background(), "user-1", Query{Offset: 50})
	if err != nil {
		t.Fatalf("List(tail): %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("offset past end returned %d rows", len(tail))
	}
}

func TestSummarizeScopesToOwnerAndRange(t *testing.T) {
	t.Parallel()

	svc, _, _ := newServiceFixture(t)
	jan := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	mustCreate(t, svc, jan, "user-1", CreateInput{AmountCents: 1000, Currency: "USD", Category: "food", SpentAt: jan})
	mustCreate(t, svc, jan, "user-1", CreateInput{AmountCents: 500, Currency: "USD", Category: "travel", SpentAt: jan})
	mustCreate(t, svc, feb, "user-1", CreateInput{AmountCents: 2000, Currency: "USD", Category: "food", SpentAt: feb})
	mustCreate(t, svc, jan, "user-2", CreateInput{AmountCents: 8888, Currency: "USD", Category: "food", SpentAt: jan})

	sum, err := svc.Summarize(context.Background(), "user-1", nil, nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.TotalCents != 3500 || sum.Count != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.ByMonth) != 2 || sum.ByMonth[0].Month != "2026-01" || sum.ByMonth[1].Month != "2026-02" {
		t.Fatalf("months = %+v", sum.ByMonth)
	}
	if len(sum.ByCategory) != 2 || sum.ByCategory[0].Category != "food" || sum.ByCategory[0].TotalCents != 3000 {
		t.Fatalf("categories = %+v", sum.ByCategory)
	}

	// Restricting to January drops the February row.
	to := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sum, err = svc.Summarize(context.Background(), "user-1", &from, &to)
	if err != nil {
		t.Fatalf("Summarize(range): %v", err)
	}
	if sum.TotalCents != 1500 || sum.Count != 2 {
		t.Fatalf("january summary = %+v", sum)
	}
}

func TestSummarizeExcludesDeletedRows(t *testing.T) {
	t.Parallel()

	svc, _, _ := newServiceFixture(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mustCreate(t, svc, now, "user-1", CreateInput{AmountCents: 100, Currency: "USD", Category: "food", SpentAt: now})
	drop := mustCreate(t, svc, now, "user-1", CreateInput{AmountCents: 900, Currency: "USD", Category: "food", SpentAt: now})

	if err := svc.Delete(context.Background(), now.Add(time.Minute), "user-1", drop.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	sum, err := svc.Summarize(context.Background(), "user-1", nil, nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.TotalCents != 100 || sum.Count != 1 {
		t.Fatalf("summary includes deleted row: %+v", sum)
	}
}

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/cmd/internal/expense"
	"tally/cmd/internal/operr"
)

type upsertRequest struct {
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Note        *string   `json:"note,omitempty"`
	SpentAt     time.Time `json:"spent_at"`
}

type expenseResponse struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Note        *string   `json:"note,omitempty"`
	SpentAt     time.Time `json:"spent_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type listResponse struct {
	Expenses []expenseResponse `json:"expenses"`
}

type categoryTotalResponse struct {
	Category   string `json:"category"`
	TotalCents int64  `json:"total_cents"`
	Count      int64  `json:"count"`
}

type monthTotalResponse struct {
	Month      string `json:"month"`
	TotalCents int64  `json:"total_cents"`
	Count      int64  `json:"count"`
}

type summaryResponse struct {
	TotalCents int64                   `json:"total_cents"`
	Count      int64                   `json:"count"`
	ByCategory []categoryTotalResponse `json:"by_category"`
	ByMonth    []monthTotalResponse    `json:"by_month"`
}

func toExpenseResponse(e expense.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		AmountCents: e.AmountCents,
		Currency:    e.Currency,
		Category:    e.Category,
		Note:        e.Note,
		SpentAt:     e.SpentAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func toListResponse(rows []expense.Expense) listResponse {
	out := listResponse{Expenses: make([]expenseResponse, 0, len(rows))}
	for _, e := range rows {
		out.Expenses = append(out.Expenses, toExpenseResponse(e))
	}
	return out
}

func toSummaryResponse(s expense.Summary) summaryResponse {
	out := summaryResponse{
		TotalCents: s.TotalCents,
		Count:      s.Count,
		ByCategory: make([]categoryTotalResponse, 0, len(s.ByCategory)),
		ByMonth:    make([]monthTotalResponse, 0, len(s.ByMonth)),
	}
	for _, c := range s.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryTotalResponse{
			Category:   c.Category,
			TotalCents: c.TotalCents,
			Count:      c.Count,
		})
	}
	for _, m := range s.ByMonth {
		out.ByMonth = append(out.ByMonth, monthTotalResponse{
			Month:      m.Month,
			TotalCents: m.TotalCents,
			Count:      m.Count,
		})
	}
	return out
}

// parseListQuery reads the typed list filters from the URL. Owner is not
// part of the URL surface; the handler fills it from the principal.
func parseListQuery(r *http.Request) (expense.Query, error) {
	const op = "expense.parseListQuery"

	var q expense.Query
	values := r.URL.Query()

	if c := strings.TrimSpace(values.Get("category")); c != "" {
		q.Category = &c
	}

	from, to, err := parseRangeParams(values.Get("from"), values.Get("to"))
	if err != nil {
		return expense.Query{}, err
	}
	q.From, q.To = from, to

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return expense.Query{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "limit must be an integer"}
		}
		q.Limit = n
	}
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return expense.Query{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "offset must be an integer"}
		}
		q.Offset = n
	}

	return q, nil
}

// parseRangeParams reads the inclusive from/to bounds. Each accepts RFC 3339
// or a plain date; a date-only "to" covers its whole day.
func parseRangeParams(fromRaw, toRaw string) (*time.Time, *time.Time, error) {
	const op = "expense.parseRangeParams"

	var from, to *time.Time
	if raw := strings.TrimSpace(fromRaw); raw != "" {
		t, _, err := parseTimeParam(raw)
		if err != nil {
			return nil, nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "from must be RFC 3339 or YYYY-MM-DD"}
		}
		from = &t
	}
	if raw := strings.TrimSpace(toRaw); raw != "" {
		t, dateOnly, err := parseTimeParam(raw)
		if err != nil {
			return nil, nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "to must be RFC 3339 or YYYY-MM-DD"}
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		to = &t
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "to is before from"}
	}
	return from, to, nil
}

func parseTimeParam(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

package expense

import (
	"sort"
	"time"
)

// SummaryQuery bounds a report to one owner and an optional inclusive
// SpentAt range.
type SummaryQuery struct {
	OwnerID string
	From    *time.Time
	To      *time.Time
}

// Summary aggregates live expenses. Postgres computes it with GROUP BY; the
// memory store folds rows through the same bucketing so both produce
// identical results for identical data.
type Summary struct {
	TotalCents int64
	Count      int64
	ByCategory []CategoryTotal
	ByMonth    []MonthTotal
}

// CategoryTotal is one category bucket, largest spend first.
type CategoryTotal struct {
	Category   string
	TotalCents int64
	Count      int64
}

// MonthTotal is one calendar-month bucket in chronological order. Month is
// "YYYY-MM" of SpentAt in UTC.
type MonthTotal struct {
	Month      string
	TotalCents int64
	Count      int64
}

// monthKey buckets a SpentAt instant into its UTC calendar month.
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// summarize folds expenses into a Summary. Rows are assumed pre-filtered to
// one owner, live, and inside the query range.
func summarize(rows []Expense) Summary {
	var out Summary
	cats := make(map[string]*CategoryTotal)
	months := make(map[string]*MonthTotal)

	for _, e := range rows {
		out.TotalCents += e.AmountCents
		out.Count++

		c := cats[e.Category]
		if c == nil {
			c = &CategoryTotal{Category: e.Category}
			cats[e.Category] = c
		}
		c.TotalCents += e.AmountCents
		c.Count++

		key := monthKey(e.SpentAt)
		m := months[key]
		if m == nil {
			m = &MonthTotal{Month: key}
			months[key] = m
		}
		m.TotalCents += e.AmountCents
		m.Count++
	}

	out.ByCategory = make([]CategoryTotal, 0, len(cats))
	for _, c := range cats {
		out.ByCategory = append(out.ByCategory, *c)
	}
	sort.Slice(out.ByCategory, func(i, j int) bool {
		a, b := out.ByCategory[i], out.ByCategory[j]
		if a.TotalCents != b.TotalCents {
			return a.TotalCents > b.TotalCents
		}
		return a.Category < b.Category
	})

	out.ByMonth = make([]MonthTotal, 0, len(months))
	for _, m := range months {
		out.ByMonth = append(out.ByMonth, *m)
	}
	sort.Slice(out.ByMonth, func(i, j int) bool {
		return out.ByMonth[i].Month < out.ByMonth[j].Month
	})

	return out
}

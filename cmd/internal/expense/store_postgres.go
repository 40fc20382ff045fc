package expense

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tally/cmd/internal/operr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists expenses in PostgreSQL.
//
// Soft deletion is a deleted_at timestamp; the partial index on
// (owner_id, spent_at) WHERE deleted_at IS NULL keeps the hot listing path
// on live rows only.
type PostgresStore struct {
	pool    *pgxpool.Pool
	schema  string
	timeout time.Duration
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "tally").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("expense: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("expense: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithQueryTimeout bounds every store operation. A timeout surfaces as an
// infrastructure error, never as "not found".
func WithQueryTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if d <= 0 {
			return fmt.Errorf("expense: non-positive query timeout")
		}
		s.timeout = d
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with safe defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:    pool,
		schema:  "tally",
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("expense: nil pool")
	}
	return st, nil
}

const expenseColumns = `id, owner_id, amount_cents, currency, category, note, spent_at, created_at, updated_at, deleted_at`

// Create inserts a new expense row.
func (s *PostgresStore) Create(ctx context.Context, e Expense) error {
	const op = "expense.Create"

	if s == nil || s.pool == nil {
		return operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expenses := pgIdent(s.schema, "expenses")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+expenses+` (`+expenseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID,
		e.OwnerID,
		e.AmountCents,
		e.Currency,
		e.Category,
		e.Note,
		e.SpentAt,
		e.CreatedAt,
		e.UpdatedAt,
		e.DeletedAt,
	)
	return err
}

// GetByID loads a live expense.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Expense, error) {
	const op = "expense.GetByID"

	if s == nil || s.pool == nil {
		return Expense{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Expense{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expenses := pgIdent(s.schema, "expenses")
	row := s.pool.QueryRow(ctx,
		`SELECT `+expenseColumns+`
		   FROM `+expenses+`
		  WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	out, err := scanExpense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, operr.NotFoundError{Op: op, Resource: "expense"}
		}
		return Expense{}, err
	}
	return out, nil
}

// GetOwnership loads the access-check projection, deleted rows included.
func (s *PostgresStore) GetOwnership(ctx context.Context, id string) (Ownership, error) {
	const op = "expense.GetOwnership"

	if s == nil || s.pool == nil {
		return Ownership{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Ownership{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expenses := pgIdent(s.schema, "expenses")
	var out Ownership
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, deleted_at IS NOT NULL
		   FROM `+expenses+`
		  WHERE id = $1`,
		id,
	).Scan(&out.OwnerID, &out.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ownership{}, operr.NotFoundError{Op: op, Resource: "expense"}
		}
		return Ownership{}, err
	}
	return out, nil
}

// Update rewrites the mutable fields of a live expense.
func (s *PostgresStore) Update(ctx context.Context, e Expense) (Expense, error) {
	const op = "expense.Update"

	if s == nil || s.pool == nil {
		return Expense{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Expense{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expenses := pgIdent(s.schema, "expenses")
	row := s.pool.QueryRow(ctx,
		`UPDATE `+expenses+`
		    SET amount_cents = $2,
		        currency = $3,
		        category = $4,
		        note = $5,
		        spent_at = $6,
		        updated_at = $7
		  WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+expenseColumns,
		e.ID,
		e.AmountCents,
		e.Currency,
		e.Category,
		e.Note,
		e.SpentAt,
		e.UpdatedAt,
	)
	out, err := scanExpense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, operr.NotFoundError{Op: op, Resource: "expense"}
		}
		return Expense{}, err
	}
	return out, nil
}

// SoftDelete marks a live expense deleted at time now.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	const op = "expense.SoftDelete"

	if s == nil || s.pool == nil {
		return operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expenses := pgIdent(s.schema, "expenses")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+expenses+`
		    SET deleted_at = $2, updated_at = $2
		  WHERE id = $1 AND deleted_at IS NULL`,
		id,
		now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return operr.NotFoundError{Op: op, Resource: "expense"}
	}
	return nil
}

// List returns live expenses matching q, newest first.
func (s *PostgresStore) List(ctx context.Context, q Query) ([]Expense, error) {
	const op = "expense.List"

	if s == nil || s.pool == nil {
		return nil, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.normalized()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where, args := expenseFilter(q.OwnerID, q.Category, q.From, q.To)
	args = append(args, q.Limit, q.Offset)

	expenses := pgIdent(s.schema, "expenses")
	rows, err := s.pool.Query(ctx,
		`SELECT `+expenseColumns+`
		   FROM `+expenses+`
		  WHERE `+where+
			fmt.Sprintf(` ORDER BY spent_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Expense, 0, q.Limit)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summarize aggregates the owner's live expenses with GROUP BY.
func (s *PostgresStore) Summarize(ctx context.Context, q SummaryQuery) (Summary, error) {
	const op = "expense.Summarize"

	if s == nil || s.pool == nil {
		return Summary{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where, args := expenseFilter(q.OwnerID, nil, q.From, q.To)
	expenses := pgIdent(s.schema, "expenses")

	var out Summary
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0)::bigint, COUNT(*)
		   FROM `+expenses+`
		  WHERE `+where,
		args...,
	).Scan(&out.TotalCents, &out.Count)
	if err != nil {
		return Summary{}, err
	}

	catRows, err := s.pool.Query(ctx,
		`SELECT category, SUM(amount_cents)::bigint, COUNT(*)
		   FROM `+expenses+`
		  WHERE `+where+`
		  GROUP BY category
		  ORDER BY SUM(amount_cents) DESC, category ASC`,
		args...,
	)
	if err != nil {
		return Summary{}, err
	}
	defer catRows.Close()
	out.ByCategory = make([]CategoryTotal, 0)
	for catRows.Next() {
		var c CategoryTotal
		if err := catRows.Scan(&c.Category, &c.TotalCents, &c.Count); err != nil {
			return Summary{}, err
		}
		out.ByCategory = append(out.ByCategory, c)
	}
	if err := catRows.Err(); err != nil {
		return Summary{}, err
	}

	monthRows, err := s.pool.Query(ctx,
		`SELECT to_char(spent_at AT TIME ZONE 'UTC', 'YYYY-MM'), SUM(amount_cents)::bigint, COUNT(*)
		   FROM `+expenses+`
		  WHERE `+where+`
		  GROUP BY 1
		  ORDER BY 1 ASC`,
		args...,
	)
	if err != nil {
		return Summary{}, err
	}
	defer monthRows.Close()
	out.ByMonth = make([]MonthTotal, 0)
	for monthRows.Next() {
		var m MonthTotal
		if err := monthRows.Scan(&m.Month, &m.TotalCents, &m.Count); err != nil {
			return Summary{}, err
		}
		out.ByMonth = append(out.ByMonth, m)
	}
	return out, monthRows.Err()
}

// expenseFilter builds the shared WHERE clause for live rows of one owner
// with optional category and inclusive SpentAt bounds.
func expenseFilter(ownerID string, category *string, from, to *time.Time) (string, []any) {
	where := []string{"owner_id = $1", "deleted_at IS NULL"}
	args := []any{ownerID}
	if category != nil {
		args = append(args, *category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if from != nil {
		args = append(args, *from)
		where = append(where, fmt.Sprintf("spent_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		where = append(where, fmt.Sprintf("spent_at <= $%d", len(args)))
	}
	return strings.Join(where, " AND "), args
}

func scanExpense(row pgx.Row) (Expense, error) {
	var e Expense
	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.AmountCents,
		&e.Currency,
		&e.Category,
		&e.Note,
		&e.SpentAt,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.DeletedAt,
	)
	return e, err
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

var _ Store = (*PostgresStore)(nil)

package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tally/cmd/internal/operr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists principals in PostgreSQL.
//
// Notes:
// - All SQL uses schema-qualified, validated identifiers.
// - Uniqueness is enforced by the DB (uq_users_email_norm), not by pre-checks,
//   so concurrent registrations cannot race past a lookup.
type PostgresStore struct {
	pool    *pgxpool.Pool
	schema  string
	timeout time.Duration
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "tally").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
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
			return fmt.Errorf("identity: non-positive query timeout")
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateUser registers a new principal. Duplicate email (normalized) yields an
// operr.ConflictError with Field "email".
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing email"}
	}
	emailNorm := NormalizeEmail(email)

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	displayName := trimPtr(in.DisplayName)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	users := pgIdent(s.schema, "users")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, email, email_norm, password_hash, display_name, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		userID,
		email,
		emailNorm,
		pwHash,
		displayName,
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, operr.ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{
		ID:           userID,
		Email:        email,
		EmailNorm:    emailNorm,
		PasswordHash: pwHash,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetUserByEmail fetches a principal by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return User{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing email"}
	}

	return s.getUser(ctx, op, `email_norm = $1`, emailNorm)
}

// GetUserByID fetches a principal by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing id"}
	}

	return s.getUser(ctx, op, `id = $1`, id)
}

func (s *PostgresStore) getUser(ctx context.Context, op, where string, arg any) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	users := pgIdent(s.schema, "users")
	var out User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, email_norm, password_hash, display_name, created_at, updated_at
		   FROM `+users+`
		  WHERE `+where,
		arg,
	).Scan(
		&out.ID,
		&out.Email,
		&out.EmailNorm,
		&out.PasswordHash,
		&out.DisplayName,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, operr.NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return out, nil
}

// ---- helpers ----

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

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// pgClassifyUniqueViolation maps a unique-violation constraint to a stable
// logical field name.
func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" {
		return "", false
	}
	if pgErr.ConstraintName == "uq_users_email_norm" {
		return "email", true
	}
	return "unique", true
}

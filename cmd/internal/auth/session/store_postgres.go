package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions in PostgreSQL.
//
// Rotation runs inside one transaction: the DELETE of the old row is the
// serialization point. Under READ COMMITTED a second transaction deleting the
// same token hash blocks on the first, re-evaluates after its commit, matches
// nothing, and loses cleanly. No row locks beyond the DELETE itself are
// needed because the row is removed, not updated.
type PostgresStore struct {
	pool    *pgxpool.Pool
	schema  string
	timeout time.Duration
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the store (default "tally").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("session: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithQueryTimeout bounds every store operation. A timeout surfaces as an
// infrastructure error, never as ErrSessionNotFound.
func WithQueryTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if d <= 0 {
			return fmt.Errorf("session: non-positive query timeout")
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
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessions := pgIdent(s.schema, "sessions")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (id, user_id, token_hash, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt,
	)
	return err
}

// FindByTokenHash loads the session row holding tokenHash.
func (s *PostgresStore) FindByTokenHash(ctx context.Context, tokenHash string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessions := pgIdent(s.schema, "sessions")
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, issued_at, expires_at
		   FROM `+sessions+`
		  WHERE token_hash = $1`,
		tokenHash,
	).Scan(&rec.ID, &rec.UserID, &rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// HasLiveSession reports whether the user holds a non-expired session row.
func (s *PostgresStore) HasLiveSession(ctx context.Context, userID string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessions := pgIdent(s.schema, "sessions")
	var live bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+sessions+`
		    WHERE user_id = $1 AND expires_at > $2
		 )`,
		userID, now,
	).Scan(&live)
	if err != nil {
		return false, err
	}
	return live, nil
}

// DeleteByTokenHash removes the row holding tokenHash. Idempotent.
func (s *PostgresStore) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessions := pgIdent(s.schema, "sessions")
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+sessions+` WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteAllForUser removes every session row of the user.
func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessions := pgIdent(s.schema, "sessions")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+sessions+` WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Rotate atomically replaces the row matching oldTokenHash with next.
//
// Delete and insert commit together or not at all: a crash between them rolls
// the delete back, so the user is never left sessionless by a failed refresh.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldTokenHash string, next Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sessions := pgIdent(s.schema, "sessions")

	var oldExpiresAt time.Time
	err = tx.QueryRow(ctx,
		`DELETE FROM `+sessions+`
		  WHERE token_hash = $1
		  RETURNING expires_at`,
		oldTokenHash,
	).Scan(&oldExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already rotated, revoked, or never issued. The losing side of a
		// concurrent refresh lands here after the winner commits.
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	if !oldExpiresAt.After(now) {
		// Keep the delete: an expired row is garbage either way.
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		return ErrSessionExpired
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+sessions+` (id, user_id, token_hash, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		next.ID, next.UserID, next.TokenHash, next.IssuedAt, next.ExpiresAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteExpired removes rows whose expiry is at or before now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessions := pgIdent(s.schema, "sessions")
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+sessions+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

package identity

import (
	"context"
	"os"
	"testing"
	"time"

	"tally/cmd/internal/operr"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when TALLY_TEST_DATABASE_URL is set and the
// schema from cmd/internal/db/migrations has been applied.

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TALLY_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TALLY_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresStore_CreateLookupConflict(t *testing.T) {
	// No t.Parallel here: lightHashing mutates the environment.
	lightHashing(t)
	ctx := context.Background()
	pool := testPool(ctx, t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	email := "it-" + time.Now().UTC().Format("20060102150405.000000000") + "@example.com"
	u, err := st.CreateUser(ctx, CreateUserInput{Email: email, Password: "secret1"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM tally.users WHERE id = $1`, u.ID)
	})

	got, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("lookup mismatch: %q vs %q", got.ID, u.ID)
	}

	if _, err := st.CreateUser(ctx, CreateUserInput{Email: email, Password: "secret2"}); !operr.IsConflict(err) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
}

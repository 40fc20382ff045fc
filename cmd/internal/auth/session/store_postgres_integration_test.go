package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"tally/cmd/identity/ids"

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

// mustCreateTestUser inserts a bare user row so session rows satisfy the
// foreign key. The password hash is a placeholder; these tests never log in.
func mustCreateTestUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	now := time.Now().UTC()
	userID, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("ids.NewULID: %v", err)
	}
	email := fmt.Sprintf("sess-it-%s@example.com", userID)

	_, err = pool.Exec(ctx,
		`INSERT INTO tally.users (id, email, email_norm, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, 'x', $4, $4)`,
		userID, email, email, now,
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM tally.sessions WHERE user_id = $1`, userID)
		_, _ = pool.Exec(ctx, `DELETE FROM tally.users WHERE id = $1`, userID)
	})
	return userID
}

func mustRecord(t *testing.T, userID string, now time.Time, ttl time.Duration) Record {
	t.Helper()

	id, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("ids.NewULID: %v", err)
	}
	return Record{
		ID:        id,
		UserID:    userID,
		TokenHash: "it-hash-" + id,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestPostgresSessionStore_CreateFindLiveness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := testPool(ctx, t)
	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := mustCreateTestUser(ctx, t, pool)
	now := time.Now().UTC()
	rec := mustRecord(t, userID, now, time.Hour)

	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := st.FindByTokenHash(ctx, rec.TokenHash)
	if err != nil {
		t.Fatalf("FindByTokenHash: %v", err)
	}
	if got.ID != rec.ID || got.UserID != userID {
		t.Fatalf("row mismatch: %+v", got)
	}

	live, err := st.HasLiveSession(ctx, userID, now)
	if err != nil {
		t.Fatalf("HasLiveSession: %v", err)
	}
	if !live {
		t.Fatalf("expected live session")
	}

	live, err = st.HasLiveSession(ctx, userID, rec.ExpiresAt)
	if err != nil {
		t.Fatalf("HasLiveSession at expiry: %v", err)
	}
	if live {
		t.Fatalf("session live at its own expiry instant")
	}
}

func TestPostgresSessionStore_RotateReplacesRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := testPool(ctx, t)
	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := mustCreateTestUser(ctx, t, pool)
	now := time.Now().UTC()
	old := mustRecord(t, userID, now, time.Hour)
	if err := st.Create(ctx, old); err != nil {
		t.Fatalf("Create: %v", err)
	}

	next := mustRecord(t, userID, now.Add(time.Second), time.Hour)
	if err := st.Rotate(ctx, now.Add(time.Second), old.TokenHash, next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if _, err := st.FindByTokenHash(ctx, old.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old row after rotation: err=%v", err)
	}
	got, err := st.FindByTokenHash(ctx, next.TokenHash)
	if err != nil {
		t.Fatalf("new row missing: %v", err)
	}
	if got.ID != next.ID {
		t.Fatalf("new row mismatch: %+v", got)
	}

	// Replaying the consumed hash loses.
	replay := mustRecord(t, userID, now.Add(2*time.Second), time.Hour)
	if err := st.Rotate(ctx, now.Add(2*time.Second), old.TokenHash, replay); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("replay rotation: err=%v", err)
	}
}

func TestPostgresSessionStore_RotateExpiredRowDeletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := testPool(ctx, t)
	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := mustCreateTestUser(ctx, t, pool)
	now := time.Now().UTC()
	old := mustRecord(t, userID, now.Add(-2*time.Hour), time.Hour)
	if err := st.Create(ctx, old); err != nil {
		t.Fatalf("Create: %v", err)
	}

	next := mustRecord(t, userID, now, time.Hour)
	if err := st.Rotate(ctx, now, old.TokenHash, next); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Rotate on expired row: err=%v", err)
	}

	// The expired row is gone and nothing replaced it.
	if _, err := st.FindByTokenHash(ctx, old.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired row survived: err=%v", err)
	}
	if _, err := st.FindByTokenHash(ctx, next.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("replacement row inserted on failed rotation: err=%v", err)
	}
}

func TestPostgresSessionStore_ConcurrentRotationOneWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := testPool(ctx, t)
	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := mustCreateTestUser(ctx, t, pool)

	for round := 0; round < 10; round++ {
		now := time.Now().UTC()
		old := mustRecord(t, userID, now, time.Hour)
		if err := st.Create(ctx, old); err != nil {
			t.Fatalf("Create: %v", err)
		}

		nexts := []Record{
			mustRecord(t, userID, now.Add(time.Second), time.Hour),
			mustRecord(t, userID, now.Add(time.Second), time.Hour),
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				errs[i] = st.Rotate(ctx, now.Add(time.Second), old.TokenHash, nexts[i])
			}(i)
		}
		close(start)
		wg.Wait()

		winners := 0
		for _, err := range errs {
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrSessionNotFound):
			default:
				t.Fatalf("round %d: unexpected rotation error: %v", round, err)
			}
		}
		if winners != 1 {
			t.Fatalf("round %d: winners = %d, want exactly 1", round, winners)
		}

		if _, err := st.DeleteAllForUser(ctx, userID); err != nil {
			t.Fatalf("cleanup round %d: %v", round, err)
		}
	}
}

func TestPostgresSessionStore_DeleteExpiredAndDeleteAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := testPool(ctx, t)
	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := mustCreateTestUser(ctx, t, pool)
	now := time.Now().UTC()

	dead := mustRecord(t, userID, now.Add(-2*time.Hour), time.Hour)
	live := mustRecord(t, userID, now, time.Hour)
	if err := st.Create(ctx, dead); err != nil {
		t.Fatalf("Create dead: %v", err)
	}
	if err := st.Create(ctx, live); err != nil {
		t.Fatalf("Create live: %v", err)
	}

	// Scope the sweep to this user's rows so parallel tests are untouched:
	// only the dead row expires before `now`.
	n, err := st.DeleteExpired(ctx, now.Add(-59*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n < 1 {
		t.Fatalf("DeleteExpired removed %d rows, want at least the dead one", n)
	}
	if _, err := st.FindByTokenHash(ctx, dead.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("dead row survived sweep: err=%v", err)
	}
	if _, err := st.FindByTokenHash(ctx, live.TokenHash); err != nil {
		t.Fatalf("live row swept: %v", err)
	}

	removed, err := st.DeleteAllForUser(ctx, userID)
	if err != nil {
		t.Fatalf("DeleteAllForUser: %v", err)
	}
	if removed != 1 {
		t.Fatalf("DeleteAllForUser removed %d, want 1", removed)
	}
}

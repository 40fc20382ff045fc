package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReaperDeletesExpiredRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := NewMemoryStore()
	now := time.Now().UTC()
	if err := st.Create(ctx, testRecord("s1", "u1", "hash-dead", now.Add(-2*time.Hour), time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Create(ctx, testRecord("s2", "u2", "hash-live", now, time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := NewReaper(st, 5*time.Millisecond, nil, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for st.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expired row not reaped, %d rows remain", st.Len())
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := st.FindByTokenHash(ctx, "hash-live"); err != nil {
		t.Fatalf("live row reaped: %v", err)
	}
	if _, err := st.FindByTokenHash(ctx, "hash-dead"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired row still present: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

type sweepFailStore struct {
	Store
}

func (s sweepFailStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, errors.New("store offline")
}

func TestReaperSurvivesSweepFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReaper(sweepFailStore{}, 5*time.Millisecond, nil, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	// Let a few failing sweeps happen; the loop must stay alive until the
	// context ends it.
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not survive sweep failures")
	}
}

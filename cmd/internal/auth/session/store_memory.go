package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for dev mode and tests.
//
// One mutex serializes every operation, so Rotate carries the exact contract
// of the Postgres implementation: the losing side of a concurrent rotation
// observes its token hash already gone and fails with ErrSessionNotFound.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]Record
	byUser map[string]map[string]struct{} // userID -> set of token hashes
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]Record),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Create inserts a new session row.
func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(rec)
	return nil
}

// FindByTokenHash loads the session row holding tokenHash.
func (s *MemoryStore) FindByTokenHash(ctx context.Context, tokenHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHash[tokenHash]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return rec, nil
}

// HasLiveSession reports whether the user holds a non-expired session row.
func (s *MemoryStore) HasLiveSession(ctx context.Context, userID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for hash := range s.byUser[userID] {
		if s.byHash[hash].ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

// DeleteByTokenHash removes the row holding tokenHash. Idempotent.
func (s *MemoryStore) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(tokenHash)
	return nil
}

// DeleteAllForUser removes every session row of the user.
func (s *MemoryStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash := range s.byUser[userID] {
		delete(s.byHash, hash)
		n++
	}
	delete(s.byUser, userID)
	return n, nil
}

// Rotate atomically replaces the row matching oldTokenHash with next.
func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, oldTokenHash string, next Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byHash[oldTokenHash]
	if !ok {
		return ErrSessionNotFound
	}

	if !old.ExpiresAt.After(now) {
		s.removeLocked(oldTokenHash)
		return ErrSessionExpired
	}

	s.removeLocked(oldTokenHash)
	s.insertLocked(next)
	return nil
}

// DeleteExpired removes rows whose expiry is at or before now.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, rec := range s.byHash {
		if !rec.ExpiresAt.After(now) {
			s.removeLocked(hash)
			n++
		}
	}
	return n, nil
}

// Len reports the number of live rows. For tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

func (s *MemoryStore) insertLocked(rec Record) {
	s.byHash[rec.TokenHash] = rec
	set := s.byUser[rec.UserID]
	if set == nil {
		set = make(map[string]struct{})
		s.byUser[rec.UserID] = set
	}
	set[rec.TokenHash] = struct{}{}
}

func (s *MemoryStore) removeLocked(tokenHash string) {
	rec, ok := s.byHash[tokenHash]
	if !ok {
		return
	}
	delete(s.byHash, tokenHash)
	if set := s.byUser[rec.UserID]; set != nil {
		delete(set, tokenHash)
		if len(set) == 0 {
			delete(s.byUser, rec.UserID)
		}
	}
}

var _ Store = (*MemoryStore)(nil)

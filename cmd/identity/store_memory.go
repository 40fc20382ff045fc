package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"tally/cmd/internal/operr"
)

// MemoryStore is an in-memory Store for dev mode and tests.
// Semantics mirror PostgresStore: normalized-email uniqueness, not-found and
// conflict reported through operr kinds.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string // email_norm -> id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// CreateUser registers a new principal.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

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

	u := User{
		ID:           userID,
		Email:        email,
		EmailNorm:    emailNorm,
		PasswordHash: pwHash,
		DisplayName:  trimPtr(in.DisplayName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[emailNorm]; exists {
		return User{}, operr.ConflictError{Op: op, Field: "email"}
	}
	s.byID[userID] = u
	s.byEmail[emailNorm] = userID

	return u, nil
}

// GetUserByEmail fetches a principal by normalized email.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	emailNorm := NormalizeEmail(email)
	if emailNorm == "" {
		return User{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing email"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailNorm]
	if !ok {
		return User{}, operr.NotFoundError{Op: op, Resource: "user"}
	}
	return s.byID[id], nil
}

// GetUserByID fetches a principal by id.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, operr.OpError{Op: op, Kind: operr.ErrInvalidInput, Msg: "missing id"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, operr.NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

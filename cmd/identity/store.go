package identity

import (
	"context"
	"time"
)

// User is tally's canonical security principal.
type User struct {
	ID        string
	Email     string
	EmailNorm string

	// PasswordHash is the PHC-encoded Argon2id hash. Never serialized to
	// clients; API response types exclude it.
	PasswordHash string

	DisplayName *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a registration request. Password is plain text
// here and hashed inside the store, so no caller ever holds both the record
// and a reusable plain credential.
type CreateUserInput struct {
	Email       string
	Password    string
	DisplayName *string
	Now         time.Time
}

// Store is the principal persistence boundary.
//
// GetUserByEmail looks up by normalized email. Both getters report a missing
// row as an operr not-found error; CreateUser reports a duplicate email as an
// operr conflict error.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
}

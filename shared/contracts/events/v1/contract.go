// Package v1 defines the Tally events feed wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and client tooling so the wire protocol
// stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// TypeHello starts the feed handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges a successful handshake (server -> client).
	TypeHelloAck = "hello.ack"

	// Expense change notifications (server -> client).
	TypeExpenseCreated = "expense.created"
	TypeExpenseUpdated = "expense.updated"
	TypeExpenseDeleted = "expense.deleted"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var AllowedTypes = map[string]struct{}{
	TypeHello:          {},
	TypeHelloAck:       {},
	TypeExpenseCreated: {},
	TypeExpenseUpdated: {},
	TypeExpenseDeleted: {},
	TypeError:          {},
}

// Envelope is the canonical wire wrapper for all feed traffic.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// HelloPayload authenticates the connection. The access token is the same
// bearer token the HTTP API accepts.
type HelloPayload struct {
	AccessToken string `json:"access_token"`
}

type HelloAckPayload struct {
	UserID string `json:"user_id"`
}

// ExpensePayload carries the expense body for created/updated events.
// Owner is implicit: the feed only ever delivers a user's own expenses.
type ExpensePayload struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Note        *string   `json:"note,omitempty"`
	SpentAt     time.Time `json:"spent_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExpenseDeletedPayload carries only what a client needs to drop the row.
type ExpenseDeletedPayload struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

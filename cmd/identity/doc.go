// Package identity owns tally's security principals.
//
// It contains the user record, email normalization, the password hashing
// facade, and the principal stores (Postgres and in-memory). Session records
// live in cmd/internal/auth/session; this package deliberately knows nothing
// about tokens.
package identity

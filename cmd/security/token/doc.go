// Package token provides token hashing primitives for tally.
//
// It is the single source of truth for refresh-token hashing: the server never
// stores a refresh token, only its 64-char hex digest, and every lookup goes
// through the same digest function.
//
// Modes:
//   - Dev fallback: SHA-256(token) when no HMAC key is configured.
//   - Production: HMAC-SHA256(token, key) keyed by TALLY_TOKEN_HMAC_KEY, so a
//     leaked sessions table cannot be matched against captured tokens without
//     the server-side key.
//
// The production policy gate (cmd/internal/app/security.go) refuses to start
// in fallback mode.
package token

package session

import "errors"

var (
	// ErrInvalidToken is returned when a token fails verification. Expired,
	// tampered, wrong-algorithm, and wrong-secret tokens are deliberately
	// indistinguishable through this error.
	ErrInvalidToken = errors.New("invalid token")

	// ErrAuthenticationFailed is the generic credential failure. Unknown
	// email and wrong password both map here.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionNotFound is returned when a refresh token hash matches no
	// session row: never issued, already rotated, or revoked.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the matched session row is past its
	// expiry. The row is removed as a side effect.
	ErrSessionExpired = errors.New("session expired")

	// ErrSigningKeyUnavailable is returned when a signing secret is missing
	// or too short to be usable.
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

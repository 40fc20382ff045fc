package operr

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput     = errors.New("invalid_input")
	ErrNotAuthenticated = errors.New("not_authenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not_found")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate_limited")
)

package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Lookups and the uniqueness constraint always use the normalized form; the
// as-entered address is kept for display.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

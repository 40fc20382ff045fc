// Package session implements tally's session and access-control core.
//
// Each user holds at most one active session. Login and register replace any
// prior session; refresh rotates the session's token atomically (the old row
// is deleted and the replacement inserted in one transaction), so a rotated
// or revoked refresh token can never be used again and concurrent refreshes
// of the same token produce exactly one winner.
//
// Access and refresh tokens are HS256 JWTs signed with two independent
// secrets. Refresh tokens are stored hashed only (HMAC-SHA256 when
// TALLY_TOKEN_HMAC_KEY is set; otherwise SHA-256) and looked up by hash.
// A small TTL cache answers "does this user have a live session" on the hot
// request path; only positive liveness is cached.
//
// Transport (HTTP cookies, bearer headers) is out of scope here; see
// cmd/internal/auth/api.
package session

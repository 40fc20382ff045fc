// Package api exposes the authentication endpoints: register, login, refresh,
// logout, and me.
//
// Token transport is asymmetric. The access token travels only in the
// Authorization header; the refresh token travels only in an HTTP-only cookie
// scoped to the refresh path and never appears in a JSON body. The refresh
// endpoint is additionally guarded by a CSRF double-submit check. RequireAuth
// is the bearer middleware shared with the other protected surfaces.
package api

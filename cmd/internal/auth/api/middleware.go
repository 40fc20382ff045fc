package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tally/cmd/internal/auth/session"
	"tally/cmd/internal/httpjson"
)

type ctxKey int

const principalKey ctxKey = iota

// WithPrincipal returns ctx carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p session.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the principal set by RequireAuth.
func PrincipalFromContext(ctx context.Context) (session.Principal, bool) {
	p, ok := ctx.Value(principalKey).(session.Principal)
	return p, ok
}

// RequireAuth verifies the bearer access token and confirms the backing
// session is live before admitting the request. Every authentication failure
// produces the same generic 401.
func RequireAuth(m *session.Manager, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeNotAuthenticated(w)
				return
			}

			p, err := m.AuthenticateToken(r.Context(), time.Now().UTC(), token)
			if err != nil {
				switch {
				case errors.Is(err, session.ErrInvalidToken),
					errors.Is(err, session.ErrAuthenticationFailed):
					writeNotAuthenticated(w)
				default:
					// Store failure: the caller's credentials were fine.
					httpjson.WriteOpError(w, log, err)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func writeNotAuthenticated(w http.ResponseWriter) {
	httpjson.WriteError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

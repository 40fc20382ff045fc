package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"tally/cmd/identity"
	"tally/cmd/internal/auth/session"
	"tally/cmd/internal/httpjson"
	"tally/cmd/internal/operr"
	"tally/cmd/internal/ratelimit"

	"github.com/go-chi/chi/v5"
)

// Handler wires the auth HTTP endpoints to the session manager.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	manager *session.Manager
	users   identity.Store
	audit   *Auditor
}

// NewHandler constructs the auth Handler. audit may be nil.
func NewHandler(log *slog.Logger, cfg Config, manager *session.Manager, users identity.Store, audit *Auditor) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("auth: nil session manager")
	}
	if users == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, cfg: cfg, manager: manager, users: users, audit: audit}, nil
}

// Routes mounts the auth endpoints on r. The caller mounts r under
// /api/v1/auth and stacks the auth rate limiter outside it.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)

	r.Group(func(pr chi.Router) {
		pr.Use(RequireAuth(h.manager, h.log))
		pr.Post("/logout", h.handleLogout)
		pr.Get("/me", h.handleMe)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := ratelimit.ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.manager.Register(ctx, now, req.Email, req.Password, req.DisplayName)
	if err != nil {
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	h.audit.Record(ctx, "auth.register", &issued.User.ID, ip, ua, nil)

	if _, err := h.setSessionCookies(w, issued.RefreshToken, issued.RefreshExp); err != nil {
		h.log.Error("auth.register.cookie.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	httpjson.WriteJSON(w, http.StatusCreated, authResponse{
		User:    toUserResponse(issued.User),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := ratelimit.ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeEmail(req.Email)

	issued, err := h.manager.Login(ctx, now, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrAuthenticationFailed) {
			// One body for unknown email and wrong password.
			h.auditLoginFailed(ctx, ip, ua, identifier)
			httpjson.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	h.audit.Record(ctx, "auth.login.success", &issued.User.ID, ip, ua, map[string]any{
		"identifier": identifier,
	})

	if _, err := h.setSessionCookies(w, issued.RefreshToken, issued.RefreshExp); err != nil {
		h.log.Error("auth.login.cookie.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, authResponse{
		User:    toUserResponse(issued.User),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeNotAuthenticated(w)
		return
	}
	if !h.csrfDoubleSubmitValid(r) {
		httpjson.WriteError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := ratelimit.ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.manager.Refresh(ctx, now, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			// Already rotated or revoked: either a replay or a lost race.
			h.auditRefreshDenied(ctx, ip, ua, "reused_or_revoked")
			writeSessionNotActive(w)
		case errors.Is(err, session.ErrSessionExpired):
			h.auditRefreshDenied(ctx, ip, ua, "expired")
			writeSessionNotActive(w)
		case errors.Is(err, session.ErrInvalidToken):
			h.auditRefreshDenied(ctx, ip, ua, "invalid_token")
			writeSessionNotActive(w)
		default:
			httpjson.WriteOpError(w, h.log, err)
		}
		return
	}

	h.audit.Record(ctx, "auth.refresh.success", &issued.User.ID, ip, ua, nil)

	if _, err := h.setSessionCookies(w, issued.RefreshToken, issued.RefreshExp); err != nil {
		h.log.Error("auth.refresh.cookie.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, refreshResponse{
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}

	ctx := r.Context()
	if err := h.manager.Logout(ctx, p.UserID); err != nil {
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	h.audit.Record(ctx, "auth.logout", &p.UserID,
		ratelimit.ClientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeNotAuthenticated(w)
		return
	}

	u, err := h.users.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		// A principal without a user row means the account vanished under a
		// live token; treat it like any other dead credential.
		if operr.IsNotFound(err) {
			writeNotAuthenticated(w)
			return
		}
		httpjson.WriteOpError(w, h.log, err)
		return
	}

	httpjson.WriteJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// ---- helpers ----

func writeSessionNotActive(w http.ResponseWriter) {
	httpjson.WriteError(w, http.StatusUnauthorized, "session_not_active", "session not active")
}

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, identifier string) {
	h.audit.Record(ctx, "auth.login.failed", nil, ip, ua, map[string]any{
		"identifier": identifier,
	})
}

func (h *Handler) auditRefreshDenied(ctx context.Context, ip net.IP, ua, reason string) {
	h.audit.Record(ctx, "auth.refresh.denied", nil, ip, ua, map[string]any{
		"reason": reason,
	})
}

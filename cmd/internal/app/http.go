package app

import (
	"net/http"
	"time"

	authapi "tally/cmd/internal/auth/api"
	"tally/cmd/internal/metrics"
	"tally/cmd/internal/ratelimit"

	"github.com/go-chi/chi/v5"
)

// routes assembles the full HTTP surface. Middleware order, outermost first:
// request logging, metrics, security headers, CORS; the general rate limiter
// wraps /api/v1 only, and auth routes additionally pass the narrow auth
// limiter. /healthz, /readyz, /metrics, and /ws sit outside the limiters.
func (a *App) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, a.log) })
	r.Use(func(next http.Handler) http.Handler { return WithMetrics(next, a.collector) })
	r.Use(WithSecurityHeaders)
	r.Use(func(next http.Handler) http.Handler { return WithCORS(next, a.cfg, a.log) })

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(a.registry))
	r.Get("/ws", a.gateway.HandleWS)

	general := &ratelimit.HTTPLimiter{
		Name:      "general",
		Limiter:   a.generalLimiter,
		Key:       ratelimit.ByClientIP(a.authCfg.TrustProxy),
		Collector: a.collector,
		Logger:    a.log,
	}
	authLim := &ratelimit.HTTPLimiter{
		Name:      "auth",
		Limiter:   a.authLimiter,
		Key:       ratelimit.ByClientIPClass("auth", a.authCfg.TrustProxy),
		Collector: a.collector,
		Logger:    a.log,
		OnReject: func(req *http.Request, d ratelimit.Decision) {
			a.auditor.RateLimited(req.Context(),
				ratelimit.ClientIP(req, a.authCfg.TrustProxy),
				req.UserAgent(), req.URL.Path, d.RetryAfter)
		},
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(general.Middleware)

		api.Route("/auth", func(ar chi.Router) {
			ar.Use(authLim.Middleware)
			a.auth.Routes(ar)
		})

		api.Group(func(pr chi.Router) {
			pr.Use(authapi.RequireAuth(a.sessions, a.log))
			pr.Route("/expenses", a.expense.Routes)
			pr.Route("/reports", a.expense.ReportRoutes)
		})
	})

	return r
}

// handleReadyz reports readiness. Memory mode is ready by definition unless
// TALLY_READINESS_REQUIRE_DB insists on a database.
func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && !a.dbEnabled {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}

	if a.dbEnabled && a.dbPool != nil {
		if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

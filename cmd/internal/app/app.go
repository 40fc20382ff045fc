// Package app wires the tally server runtime: config, logging, stores,
// session management, HTTP routes, and the events gateway.
//
// It is intentionally small and deterministic to keep startup behavior
// predictable; every dependency is constructed here and handed down.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"tally/cmd/identity"
	authapi "tally/cmd/internal/auth/api"
	"tally/cmd/internal/auth/session"
	"tally/cmd/internal/db"
	"tally/cmd/internal/events"
	"tally/cmd/internal/expense"
	expenseapi "tally/cmd/internal/expense/api"
	"tally/cmd/internal/metrics"
	"tally/cmd/internal/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory dev mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// stores bundles the per-domain persistence backends picked at startup.
type stores struct {
	users    identity.Store
	sessions session.Store
	expenses expense.Store
}

// App is the tally server runtime. It owns every long-lived component and
// tears them down in order on shutdown.
type App struct {
	cfg Config
	log Logger

	store     Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry  *prometheus.Registry
	collector *metrics.Collector

	sessions *session.Manager
	cache    *session.ValidityCache
	reaper   *session.Reaper

	generalLimiter *ratelimit.Limiter
	authLimiter    *ratelimit.Limiter

	auditor *authapi.Auditor
	authCfg authapi.Config
	auth    *authapi.Handler
	expense *expenseapi.Handler
	gateway *events.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := EnsureSecurityConfig(cfg, &sessCfg, log); err != nil {
		return nil, err
	}

	st, pool, dbEnabled, backends, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	codec, err := session.NewTokenCodec(sessCfg)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	cache := session.NewValidityCache(sessCfg.CacheTTL, collector)
	manager := session.NewManager(sessCfg, backends.users, backends.sessions, cache, codec, collector)
	reaper := session.NewReaper(backends.sessions, sessCfg.ReapInterval, log, collector)

	auditor := authapi.NewAuditor(log, pool)
	authCfg := authapi.LoadConfigFromEnv()

	authHandler, err := authapi.NewHandler(log, authCfg, manager, backends.users, auditor)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	hub := events.NewHub(log, collector)
	gateway, err := events.NewGateway(log, manager, hub)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	svc, err := expense.NewService(backends.expenses, log, events.NewExpenseNotifier(hub))
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	expCfg := expenseapi.Config{
		TrustProxy:   authCfg.TrustProxy,
		MaxBodyBytes: authCfg.MaxBodyBytes,
	}
	expenseHandler, err := expenseapi.NewHandler(log, expCfg, svc, auditor)
	if err != nil {
		closeQuietly(st, log)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		registry:  registry,
		collector: collector,
		sessions:  manager,
		cache:     cache,
		reaper:    reaper,
		generalLimiter: ratelimit.New(ratelimit.Config{
			Window: cfg.RateGeneralWindow,
			Max:    cfg.RateGeneralMax,
		}),
		authLimiter: ratelimit.New(ratelimit.Config{
			Window: cfg.RateAuthWindow,
			Max:    cfg.RateAuthMax,
		}),
		auditor: auditor,
		authCfg: authCfg,
		auth:    authHandler,
		expense: expenseHandler,
		gateway: gateway,
	}, nil
}

// Run starts the HTTP server and the session reaper, blocks until context
// cancellation or a fatal server error, then tears everything down in order:
// server, reaper, limiters, cache, store.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		a.reaper.Run(reaperCtx)
	}()

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"db_enabled", a.dbEnabled,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	stopReaper()
	<-reaperDone

	a.generalLimiter.Stop()
	a.authLimiter.Stop()
	a.cache.Stop()

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory dev
// backends.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled",
			"note", "TALLY_DATABASE_URL unset; running on in-memory stores, all data is lost on exit",
		)
		return nopStore{}, nil, false, stores{
			users:    identity.NewMemoryStore(),
			sessions: session.NewMemoryStore(),
			expenses: expense.NewMemoryStore(),
		}, nil
	}

	if cfg.AutoMigrate {
		log.Info("db.migrate.auto", "direction", "up")
		if err := db.Run(cfg.DatabaseURL, "up"); err != nil {
			return nil, nil, false, stores{}, err
		}
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, stores{}, err
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, stores{}, err
	}
	sessions, err := session.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, stores{}, err
	}
	expenses, err := expense.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, stores{}, err
	}

	log.Info("db.enabled", "max_conns", cfg.DBMaxConns)

	return dbStore{pool: pool}, pool, true, stores{
		users:    users,
		sessions: sessions,
		expenses: expenses,
	}, nil
}

func closeQuietly(st Store, log Logger) {
	if err := st.Close(context.Background()); err != nil {
		log.Error("store.close.fail", "err", err)
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can reach.
// Wildcard binds are rewritten to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an HTTP base URL to its WebSocket counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Auditor appends security-relevant events to the audit_log table.
//
// Every write is best-effort: a failed insert is logged and the request
// proceeds. A nil Auditor or nil pool (memory mode) discards events.
type Auditor struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewAuditor constructs an Auditor. pool may be nil in memory mode.
func NewAuditor(log *slog.Logger, pool *pgxpool.Pool) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{log: log, pool: pool}
}

// Record inserts one audit row. Never blocks the caller on failure.
func (a *Auditor) Record(ctx context.Context, action string, userID *string, ip net.IP, ua string, meta map[string]any) {
	if a == nil || a.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO tally.audit_log (
			user_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, now(), $3, $4, $5::jsonb)
	`, userID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

// RateLimited records a rate-limiter rejection. Wired as the auth limiter's
// OnReject hook.
func (a *Auditor) RateLimited(ctx context.Context, ip net.IP, ua, path string, retryAfter time.Duration) {
	a.Record(ctx, "auth.rate_limited", nil, ip, ua, map[string]any{
		"path":          path,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

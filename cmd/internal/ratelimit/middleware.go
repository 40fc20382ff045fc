package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/cmd/internal/httpjson"
	"tally/cmd/internal/metrics"
	"tally/cmd/internal/operr"
)

// KeyFunc derives the limiter key for a request.
type KeyFunc func(*http.Request) string

// ByClientIP keys on the client IP alone.
func ByClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return ClientIPString(r, trustProxy)
	}
}

// ByClientIPClass keys on client IP plus a fixed class suffix, so a narrow
// quota (auth endpoints) counts separately from the general one.
func ByClientIPClass(class string, trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return ClientIPString(r, trustProxy) + "|" + class
	}
}

// HTTPLimiter binds a Limiter to request handling: key derivation, the 429
// response with Retry-After, and the remaining-quota header on success.
// OnReject, when set, observes every rejection (audit trail); it must not block.
type HTTPLimiter struct {
	Name      string
	Limiter   *Limiter
	Key       KeyFunc
	Collector *metrics.Collector
	Logger    *slog.Logger
	OnReject  func(r *http.Request, d Decision)
}

// Middleware enforces the limiter for every request passing through.
func (h *HTTPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.Key(r)
		d := h.Limiter.Allow(key, time.Now().UTC())
		if !d.OK {
			h.Collector.RecordRateLimitRejection(h.Name)
			if h.Logger != nil {
				h.Logger.Warn("ratelimit.reject",
					slog.String("limiter", h.Name),
					slog.String("key", key),
					slog.String("path", r.URL.Path),
				)
			}
			if h.OnReject != nil {
				h.OnReject(r, d)
			}
			httpjson.WriteOpError(w, h.Logger, operr.RateLimitedError{
				Op:         "ratelimit." + h.Name,
				RetryAfter: d.RetryAfter,
			})
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		next.ServeHTTP(w, r)
	})
}

// ClientIP resolves the caller's IP. Forwarding headers are honored only when
// trustProxy is set; otherwise a client could spoof its way past per-IP quotas.
func ClientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// ClientIPString is ClientIP with an "unknown" fallback so limiter keys are
// never empty.
func ClientIPString(r *http.Request, trustProxy bool) string {
	ip := ClientIP(r, trustProxy)
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

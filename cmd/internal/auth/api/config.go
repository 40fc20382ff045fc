package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls the auth API transport behavior and security defaults.
type Config struct {
	// TrustProxy enables client IP resolution from forwarding headers.
	TrustProxy bool

	// MaxBodyBytes caps every request body read by the auth endpoints.
	MaxBodyBytes int64

	// RefreshCookieName holds the refresh token; HTTP-only, scoped to
	// RefreshCookiePath so the browser sends it to the refresh endpoint only.
	RefreshCookieName string
	RefreshCookiePath string

	// CSRFCookieName / CSRFHeaderName implement the double-submit check on
	// refresh. The CSRF cookie is not HTTP-only: the client reads it and
	// echoes the value back in the header.
	CSRFCookieName string
	CSRFHeaderName string

	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// DefaultConfig returns production-safe transport defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20, // 1 MiB
		RefreshCookieName: "tally_refresh_token",
		RefreshCookiePath: "/api/v1/auth/refresh",
		CSRFCookieName:    "tally_csrf_token",
		CSRFHeaderName:    "X-CSRF-Token",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteLaxMode,
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with safe
// defaults. Unparseable values fall back rather than failing: transport knobs
// are not secrets, and a half-configured proxy flag should not take the API
// down.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.TrustProxy = envBool("TALLY_AUTH_TRUST_PROXY", cfg.TrustProxy)
	cfg.MaxBodyBytes = envInt64("TALLY_AUTH_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.CookieDomain = strings.TrimSpace(os.Getenv("TALLY_AUTH_COOKIE_DOMAIN"))
	cfg.CookieSecure = envBool("TALLY_AUTH_COOKIE_SECURE", cfg.CookieSecure)

	switch strings.ToLower(strings.TrimSpace(os.Getenv("TALLY_AUTH_COOKIE_SAMESITE"))) {
	case "strict":
		cfg.CookieSameSite = http.SameSiteStrictMode
	case "lax", "":
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

package session

import (
	"os"
	"time"
)

// MinSecretBytes is the minimum length accepted for a JWT signing secret.
const MinSecretBytes = 32

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs, clock skew tolerance, the two signing secrets, the
// validity-cache TTL, and the reaper interval. The struct is explicit and
// environment-driven so production deployments can tune security parameters
// without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of both token kinds.
	Issuer string

	// AccessTokenTTL is the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens and of the session
	// row bound to them.
	RefreshTokenTTL time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// AccessSecret and RefreshSecret sign the two token kinds. They must be
	// independent: a token signed with one must never verify under the other.
	AccessSecret  []byte
	RefreshSecret []byte

	// CacheTTL bounds how long a cached "session live" answer may outlive a
	// revocation performed elsewhere.
	CacheTTL time.Duration

	// ReapInterval is how often expired session rows are deleted.
	ReapInterval time.Duration
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Secrets are empty by default; the startup security gate either requires
// them (production) or generates ephemeral ones (dev).
func DefaultConfig() Config {
	return Config{
		Issuer:          "tally",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
		CacheTTL:        5 * time.Minute,
		ReapInterval:    time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - TALLY_AUTH_ISSUER
//   - TALLY_AUTH_ACCESS_TTL
//   - TALLY_AUTH_REFRESH_TTL
//   - TALLY_AUTH_CLOCK_SKEW
//   - TALLY_SESSION_CACHE_TTL
//   - TALLY_SESSION_REAP_INTERVAL
//
// Secrets:
//   - TALLY_AUTH_ACCESS_SECRET
//   - TALLY_AUTH_REFRESH_SECRET
//
// Secrets may be absent here; NewTokenCodec refuses to operate without them,
// and the app's security gate decides whether absence is fatal.
// Returns ErrConfig if a present value is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("TALLY_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("TALLY_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("TALLY_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("TALLY_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("TALLY_SESSION_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.CacheTTL = d
	}

	if v := os.Getenv("TALLY_SESSION_REAP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ReapInterval = d
	}

	if v := os.Getenv("TALLY_AUTH_ACCESS_SECRET"); v != "" {
		cfg.AccessSecret = []byte(v)
	}
	if v := os.Getenv("TALLY_AUTH_REFRESH_SECRET"); v != "" {
		cfg.RefreshSecret = []byte(v)
	}

	// An access token must never verify as a refresh token or vice versa.
	if len(cfg.AccessSecret) > 0 && string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return Config{}, ErrConfig
	}

	// Refresh tokens shorter-lived than access tokens would make rotation
	// pointless.
	if cfg.RefreshTokenTTL < cfg.AccessTokenTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	Env       string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// AutoMigrate applies pending embedded migrations at startup. Off by
	// default; production deployments run cmd/migrate as a separate step.
	AutoMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// CORS is disabled while the allowlist is empty. Entries are exact
	// origins, or "scheme://host:*" to admit any port on that host.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	RateGeneralMax    int
	RateGeneralWindow time.Duration
	RateAuthMax       int
	RateAuthWindow    time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TALLY_HTTP_ADDR", "0.0.0.0:8080"),
		Env:       EnvString("TALLY_ENV", "dev"),
		LogLevel:  EnvString("TALLY_LOG_LEVEL", "info"),
		LogFormat: EnvString("TALLY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TALLY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TALLY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TALLY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TALLY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes:  EnvInt("TALLY_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout: EnvDuration("TALLY_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("TALLY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TALLY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TALLY_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("TALLY_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("TALLY_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("TALLY_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("TALLY_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TALLY_CORS_MAX_AGE_SECONDS", 600),

		RateGeneralMax:    EnvInt("TALLY_RATE_GENERAL_MAX", 100),
		RateGeneralWindow: EnvDuration("TALLY_RATE_GENERAL_WINDOW", 15*time.Minute),
		RateAuthMax:       EnvInt("TALLY_RATE_AUTH_MAX", 10),
		RateAuthWindow:    EnvDuration("TALLY_RATE_AUTH_WINDOW", 15*time.Minute),
	}
}

// IsProduction reports whether the security policy gate runs in enforcing
// mode.
func (c Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "production" || env == "prod"
}

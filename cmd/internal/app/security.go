package app

import (
	"crypto/rand"
	"errors"
	"fmt"

	"tally/cmd/internal/auth/session"
	"tally/cmd/security/token"
)

// EnsureSecurityConfig enforces the startup security policy on the secret
// material in sessCfg, mutating it in dev mode.
//
// Production (TALLY_ENV=production): missing or short JWT secrets and a
// missing or short refresh-token HMAC key abort startup. Silently falling
// back to weaker crypto in production is unacceptable.
//
// Dev: missing JWT secrets are replaced with ephemeral random ones, and a
// missing HMAC key leaves refresh-token hashing on plain SHA-256; both are
// logged loudly. Ephemeral secrets invalidate every token on restart.
func EnsureSecurityConfig(cfg Config, sessCfg *session.Config, log Logger) error {
	if cfg.IsProduction() {
		return validateProductionSecrets(sessCfg)
	}

	if len(sessCfg.AccessSecret) < session.MinSecretBytes {
		b, err := randomSecret(session.MinSecretBytes)
		if err != nil {
			return err
		}
		sessCfg.AccessSecret = b
		log.Warn("security.dev_secret",
			"secret", "TALLY_AUTH_ACCESS_SECRET",
			"note", "ephemeral random secret generated; access tokens will not survive a restart",
		)
	}
	if len(sessCfg.RefreshSecret) < session.MinSecretBytes {
		b, err := randomSecret(session.MinSecretBytes)
		if err != nil {
			return err
		}
		sessCfg.RefreshSecret = b
		log.Warn("security.dev_secret",
			"secret", "TALLY_AUTH_REFRESH_SECRET",
			"note", "ephemeral random secret generated; refresh tokens will not survive a restart",
		)
	}
	if !token.HMACEnabled() {
		log.Warn("security.dev_hmac_disabled",
			"key", token.HMACEnvKey,
			"note", "refresh-token hashing falls back to plain SHA-256",
		)
	}

	return nil
}

// validateProductionSecrets measures bytes, not runes: the keys are used as
// raw bytes.
func validateProductionSecrets(sessCfg *session.Config) error {
	if len(sessCfg.AccessSecret) < session.MinSecretBytes {
		return fmt.Errorf("security policy: TALLY_ENV=production but TALLY_AUTH_ACCESS_SECRET is missing or shorter than %d bytes", session.MinSecretBytes)
	}
	if len(sessCfg.RefreshSecret) < session.MinSecretBytes {
		return fmt.Errorf("security policy: TALLY_ENV=production but TALLY_AUTH_REFRESH_SECRET is missing or shorter than %d bytes", session.MinSecretBytes)
	}

	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("security policy: TALLY_ENV=production but %s is missing", token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: TALLY_ENV=production but %s is too short (min 32 bytes)", token.HMACEnvKey)
		default:
			return err
		}
	}

	// Hard assertion: refresh-token hashing must run in HMAC mode in this
	// runtime, not just have a key configured.
	if !token.HMACEnabled() {
		return errors.New("security policy: TALLY_ENV=production but token hasher is not in HMAC mode")
	}

	return nil
}

func randomSecret(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("security: generate dev secret: %w", err)
	}
	return b, nil
}

package app

import (
	"bytes"
	"strings"
	"testing"

	"tally/cmd/internal/auth/session"
)

func prodConfig() Config { return Config{Env: "production"} }

func devConfig() Config { return Config{Env: "dev"} }

func secret(b byte) []byte {
	return bytes.Repeat([]byte{b}, session.MinSecretBytes)
}

func TestEnsureSecurityConfig_ProductionRejectsMissingSecrets(t *testing.T) {
	t.Setenv("TALLY_TOKEN_HMAC_KEY", strings.Repeat("k", 32))

	sessCfg := session.DefaultConfig()
	err := EnsureSecurityConfig(prodConfig(), &sessCfg, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "TALLY_AUTH_ACCESS_SECRET") {
		t.Fatalf("err=%v want access-secret policy failure", err)
	}

	sessCfg.AccessSecret = secret('a')
	err = EnsureSecurityConfig(prodConfig(), &sessCfg, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "TALLY_AUTH_REFRESH_SECRET") {
		t.Fatalf("err=%v want refresh-secret policy failure", err)
	}
}

func TestEnsureSecurityConfig_ProductionRequiresHMACKey(t *testing.T) {
	sessCfg := session.DefaultConfig()
	sessCfg.AccessSecret = secret('a')
	sessCfg.RefreshSecret = secret('r')

	t.Setenv("TALLY_TOKEN_HMAC_KEY", "")
	err := EnsureSecurityConfig(prodConfig(), &sessCfg, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "TALLY_TOKEN_HMAC_KEY") {
		t.Fatalf("err=%v want missing-HMAC policy failure", err)
	}

	t.Setenv("TALLY_TOKEN_HMAC_KEY", "short")
	err = EnsureSecurityConfig(prodConfig(), &sessCfg, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("err=%v want short-HMAC policy failure", err)
	}

	t.Setenv("TALLY_TOKEN_HMAC_KEY", strings.Repeat("k", 32))
	if err := EnsureSecurityConfig(prodConfig(), &sessCfg, discardLogger()); err != nil {
		t.Fatalf("valid production config rejected: %v", err)
	}
}

func TestEnsureSecurityConfig_DevGeneratesEphemeralSecrets(t *testing.T) {
	t.Setenv("TALLY_TOKEN_HMAC_KEY", "")

	sessCfg := session.DefaultConfig()
	if err := EnsureSecurityConfig(devConfig(), &sessCfg, discardLogger()); err != nil {
		t.Fatalf("dev mode must not fail on missing secrets: %v", err)
	}
	if len(sessCfg.AccessSecret) != session.MinSecretBytes {
		t.Fatalf("access secret not generated: %d bytes", len(sessCfg.AccessSecret))
	}
	if len(sessCfg.RefreshSecret) != session.MinSecretBytes {
		t.Fatalf("refresh secret not generated: %d bytes", len(sessCfg.RefreshSecret))
	}
	if bytes.Equal(sessCfg.AccessSecret, sessCfg.RefreshSecret) {
		t.Fatalf("generated secrets must differ")
	}
}

func TestEnsureSecurityConfig_DevKeepsProvidedSecrets(t *testing.T) {
	t.Setenv("TALLY_TOKEN_HMAC_KEY", "")

	sessCfg := session.DefaultConfig()
	sessCfg.AccessSecret = secret('a')
	sessCfg.RefreshSecret = secret('r')

	if err := EnsureSecurityConfig(devConfig(), &sessCfg, discardLogger()); err != nil {
		t.Fatalf("EnsureSecurityConfig: %v", err)
	}
	if !bytes.Equal(sessCfg.AccessSecret, secret('a')) || !bytes.Equal(sessCfg.RefreshSecret, secret('r')) {
		t.Fatalf("provided secrets were replaced")
	}
}

package identity

import (
	"errors"

	"tally/cmd/internal/operr"
	"tally/cmd/security/password"
)

// HashPassword returns a PHC-style Argon2id hash of the plain password,
// applying the env-configured parameters and policy.
func HashPassword(plain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}

	enc, err := cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", operr.OpError{Op: "identity.HashPassword", Kind: operr.ErrInvalidInput, Msg: err.Error()}
		default:
			return "", err
		}
	}
	return enc, nil
}

// VerifyPassword checks a plain password against a stored PHC Argon2id hash.
// Strict PHC parsing; refuses hashes with parameters above configured bounds.
func VerifyPassword(plain, encodedPHC string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return false, err
	}

	ok, err := cfg.Verify(encodedPHC, plain)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return false, operr.OpError{Op: "identity.VerifyPassword", Kind: operr.ErrInvalidInput, Msg: "invalid argon2id hash format"}
		}
		return false, err
	}
	return ok, nil
}

// DummyVerify burns one realistic Argon2id verification against a throwaway
// hash. Login uses it on the unknown-user path so a missing account costs the
// same as a wrong password.
func DummyVerify(dummyHash string) {
	cfg, err := password.FromEnv()
	if err != nil {
		cfg = password.DefaultConfig()
	}
	_, _ = cfg.Verify(dummyHash, "timing-equalizer-not-a-password")
}

// NewDummyHash produces the throwaway hash fed to DummyVerify. Generated once
// at startup; never stored.
func NewDummyHash() (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		cfg = password.DefaultConfig()
	}
	return cfg.Hash("dummy-password-for-timing-only")
}

package password

import "testing"

func TestHashAndVerify_OK(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}

	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := DefaultConfig()

	ok, err := cfg.Verify("not-a-hash", "whatever")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected no match for invalid hash")
	}
}

func TestVerify_RejectsOversizedParams(t *testing.T) {
	cfg := DefaultConfig()

	// Same shape as a real hash but with attacker-chosen huge memory cost.
	oversized := "$argon2id$v=19$m=2097152,t=10,p=8$c29tZXNhbHRzb21lc2FsdA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

	ok, err := cfg.Verify(oversized, "whatever")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash for oversized params, got %v", err)
	}
	if ok {
		t.Fatalf("expected no match")
	}
}

func TestWeakPatternRejection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true

	for _, pw := range []string{"aaaaaaaaaa", "123456789", "password123"} {
		if err := cfg.Validate(pw); err != ErrWeakPassword {
			t.Fatalf("expected ErrWeakPassword for %q, got %v", pw, err)
		}
	}

	if err := cfg.Validate("plainly ok phrase 42"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

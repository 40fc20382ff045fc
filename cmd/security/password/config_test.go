package password

import "testing"

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Params.MemoryKiB != 64*1024 {
		t.Fatalf("unexpected default memory: %d", cfg.Params.MemoryKiB)
	}
	if cfg.Policy.MinLength != 6 || cfg.Policy.MaxLength != 256 {
		t.Fatalf("unexpected default policy: %+v", cfg.Policy)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TALLY_PASSWORD_MIN_LEN", "10")
	t.Setenv("TALLY_ARGON2_ITERATIONS", "4")
	t.Setenv("TALLY_ARGON2_MEMORY_KIB", "16384")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 10 {
		t.Fatalf("min length override not applied: %d", cfg.Policy.MinLength)
	}
	if cfg.Params.Iterations != 4 {
		t.Fatalf("iterations override not applied: %d", cfg.Params.Iterations)
	}
	if cfg.Params.MemoryKiB != 16384 {
		t.Fatalf("memory override not applied: %d", cfg.Params.MemoryKiB)
	}
}

func TestFromEnv_RejectsInvalid(t *testing.T) {
	t.Setenv("TALLY_ARGON2_MEMORY_KIB", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for invalid memory value")
	}
}

func TestFromEnv_RejectsInvertedPolicy(t *testing.T) {
	t.Setenv("TALLY_PASSWORD_MIN_LEN", "100")
	t.Setenv("TALLY_PASSWORD_MAX_LEN", "50")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error when min > max")
	}
}

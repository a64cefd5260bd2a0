package configs

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Environment != "development" {
		t.Fatalf("expected development default, got %q", cfg.Environment)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.MaxConnsPerOrigin != 10 {
		t.Fatalf("expected default origin ceiling 10, got %d", cfg.MaxConnsPerOrigin)
	}
	if cfg.MoveCooldown != 100*time.Millisecond {
		t.Fatalf("expected default move cooldown 100ms, got %v", cfg.MoveCooldown)
	}
	if cfg.InactivityTimeout != 5*time.Minute {
		t.Fatalf("expected default inactivity timeout 5m, got %v", cfg.InactivityTimeout)
	}
	if cfg.SweepInterval != 60*time.Second {
		t.Fatalf("expected default sweep interval 60s, got %v", cfg.SweepInterval)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("MOVE_COOLDOWN", "250ms")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.MoveCooldown != 250*time.Millisecond {
		t.Fatalf("expected move cooldown 250ms, got %v", cfg.MoveCooldown)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("PORT", "80")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected privileged port to be rejected")
	}

	t.Setenv("PORT", "8080")
	t.Setenv("MAX_CONNS_PER_ORIGIN", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected zero origin ceiling to be rejected")
	}
}

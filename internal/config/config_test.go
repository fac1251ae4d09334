package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WARRANTLY_AUTH_SECRET", "staff-secret")
	t.Setenv("WARRANTLY_TOKEN_SECRET", "token-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.TokenTTL != 72*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.TokenTTL)
	}
	if cfg.NotifyStream != "warranty_events" || cfg.PublicRateBurst != 20 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WARRANTLY_AUTH_SECRET", "staff-secret")
	t.Setenv("WARRANTLY_TOKEN_SECRET", "token-secret")
	t.Setenv("WARRANTLY_ADDR", ":9090")
	t.Setenv("WARRANTLY_TOKEN_TTL", "24h")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9090" || cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	// t.Setenv registers the restore; the vars must be truly unset here.
	t.Setenv("WARRANTLY_AUTH_SECRET", "")
	t.Setenv("WARRANTLY_TOKEN_SECRET", "")
	os.Unsetenv("WARRANTLY_AUTH_SECRET")
	os.Unsetenv("WARRANTLY_TOKEN_SECRET")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing secrets")
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresMemberCap(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error when MEMBER_CAP is unset")
	}

	t.Setenv("MEMBER_CAP", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when MEMBER_CAP is zero")
	}

	t.Setenv("MEMBER_CAP", "50")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.MemberCap != 50 {
		t.Errorf("MemberCap = %d, want 50", cfg.MemberCap)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MEMBER_CAP", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.HasAdmin() {
		t.Error("HasAdmin() = true without ADMIN_PASSWORD_HASH")
	}
	if cfg.HasIdentitySync() {
		t.Error("HasIdentitySync() = true without IDENTITY_BASE_URL")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("rate limiting should default to enabled")
	}
}

func TestLoad_AdminRequiresJWTSecret(t *testing.T) {
	t.Setenv("MEMBER_CAP", "10")
	t.Setenv("ADMIN_PASSWORD_HASH", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when ADMIN_PASSWORD_HASH is set without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if !cfg.HasAdmin() {
		t.Error("HasAdmin() = false")
	}
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	t.Setenv("MEMBER_CAP", "10")
	t.Setenv("IDENTITY_BASE_URL", "https://idp.example.com")
	t.Setenv("IDENTITY_API_TOKEN", "token")
	t.Setenv("IDENTITY_SYNC_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if !cfg.HasIdentitySync() {
		t.Error("HasIdentitySync() = false")
	}
	if cfg.IdentitySyncTimeout != 5*time.Second {
		t.Errorf("IdentitySyncTimeout = %v", cfg.IdentitySyncTimeout)
	}
	if cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = true, want false")
	}
}

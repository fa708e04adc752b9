package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("DB_PATH", "./data/test.db")
	t.Setenv("MIRROR_PORT", "8090")
	t.Setenv("PORT", "8080")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SNAPSHOT_CODEC", "json")
	t.Setenv("LLM_PROVIDER", "gateway")
	t.Setenv("RUN_RATE_LIMIT", "not-a-number")
	t.Setenv("RUN_RATE_WINDOW", "30s")
	t.Setenv("REMOTE_URL", "http://mirror.local/")
	t.Setenv("SYNC_INTERVAL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 {
		t.Errorf("expected fallback rate limit 10, got %d", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.RateLimit.WindowDuration != 30*time.Second {
		t.Errorf("expected 30s window, got %v", cfg.RateLimit.WindowDuration)
	}
	if cfg.Sync.Interval != 90*time.Second {
		t.Errorf("expected 90s sync interval, got %v", cfg.Sync.Interval)
	}
	if cfg.Remote.URL != "http://mirror.local" || !cfg.Remote.Enabled() {
		t.Errorf("unexpected remote config %+v", cfg.Remote)
	}
	if !cfg.IsDevelopment() {
		t.Error("empty FRONTEND_URL should be development")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("unexpected origins %v", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:      "8080",
			Store:     StoreConfig{Backend: StoreFile, SnapshotDir: "/tmp/x", Codec: "cbor"},
			LLM:       LLMConfig{Provider: "anthropic"},
			RateLimit: RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second},
			Mirror:    MirrorConfig{Port: "8090"},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"missing snapshot dir", func(c *Config) { c.Store.SnapshotDir = "" }},
		{"sqlite without path", func(c *Config) { c.Store.Backend = StoreSQLite }},
		{"unknown codec", func(c *Config) { c.Store.Codec = "xml" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }},
		{"zero rate limit", func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }},
		{"zero window", func(c *Config) { c.RateLimit.WindowDuration = 0 }},
		{"negative sync interval", func(c *Config) { c.Sync.Interval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseUserTokens(t *testing.T) {
	tokens, err := parseUserTokens(" tok-a=u1, tok-b=u2 ")
	if err != nil {
		t.Fatalf("parseUserTokens failed: %v", err)
	}
	if len(tokens) != 2 || tokens["tok-a"] != "u1" || tokens["tok-b"] != "u2" {
		t.Errorf("unexpected tokens %v", tokens)
	}

	if tokens, err := parseUserTokens(""); err != nil || tokens != nil {
		t.Errorf("empty input should yield no tokens, got %v, %v", tokens, err)
	}

	for _, raw := range []string{"tok-a", "=u1", "tok-a="} {
		if _, err := parseUserTokens(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestLoadRejectsMalformedUserTokens(t *testing.T) {
	t.Setenv("MIRROR_USER_TOKENS", "missing-separator")

	if _, err := Load(); err == nil {
		t.Error("expected Load to reject MIRROR_USER_TOKENS without token=user_id")
	}
}

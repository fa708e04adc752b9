// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	Store       StoreConfig
	Remote      RemoteConfig
	Sync        SyncConfig
	LLM         LLMConfig
	RateLimit   RateLimitConfig
	Auth        AuthConfig
	Mirror      MirrorConfig
}

// StoreConfig selects the durable backing for local state.
type StoreConfig struct {
	Backend     string
	DBPath      string
	SnapshotDir string
	Codec       string
}

// RemoteConfig points at the remote mirror. An empty URL keeps everything
// local.
type RemoteConfig struct {
	URL    string
	APIKey string
}

// Enabled reports whether a remote mirror is configured.
func (r RemoteConfig) Enabled() bool {
	return r.URL != ""
}

// SyncConfig controls background reconciliation. A zero interval disables
// it.
type SyncConfig struct {
	Interval time.Duration
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// RateLimitConfig bounds run and test requests per client.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// AuthConfig is the session the CLI signs in with.
type AuthConfig struct {
	UserID      string
	AccessToken string
}

// MirrorConfig configures the self-hosted mirror service.
type MirrorConfig struct {
	Port   string
	DBPath string
	APIKey string
	// UserTokens maps a bearer token to the only user_id it may touch.
	// Empty means every apikey holder is trusted with every user.
	UserTokens map[string]string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
			DBPath:      getEnv("DB_PATH", "./data/pocketagent.db"),
			SnapshotDir: getEnv("SNAPSHOT_DIR", "./data/snapshots"),
			Codec:       strings.ToLower(getEnv("SNAPSHOT_CODEC", "json")),
		},
		Remote: RemoteConfig{
			URL:    strings.TrimRight(getEnv("REMOTE_URL", ""), "/"),
			APIKey: getEnv("REMOTE_API_KEY", ""),
		},
		Sync: SyncConfig{
			Interval: getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		},
		LLM: LLMConfig{
			Provider: strings.ToLower(getEnv("LLM_PROVIDER", "gateway")),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			APIKey:   getEnv("LLM_API_KEY", ""),
			Model:    getEnv("LLM_MODEL", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RUN_RATE_LIMIT", 10),
			WindowDuration:    getEnvDuration("RUN_RATE_WINDOW", time.Minute),
		},
		Auth: AuthConfig{
			UserID:      getEnv("AUTH_USER_ID", ""),
			AccessToken: getEnv("AUTH_ACCESS_TOKEN", ""),
		},
		Mirror: MirrorConfig{
			Port:   getEnv("MIRROR_PORT", "8090"),
			DBPath: getEnv("MIRROR_DB_PATH", "./data/mirror.db"),
			APIKey: getEnv("MIRROR_API_KEY", ""),
		},
	}

	tokens, err := parseUserTokens(getEnv("MIRROR_USER_TOKENS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Mirror.UserTokens = tokens

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreFile:
		if c.Store.SnapshotDir == "" {
			return fmt.Errorf("SNAPSHOT_DIR cannot be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q or %q, got %q", StoreSQLite, StoreFile, StoreMemory, c.Store.Backend)
	}
	if c.Store.Codec != "json" && c.Store.Codec != "cbor" {
		return fmt.Errorf("SNAPSHOT_CODEC must be json or cbor, got %q", c.Store.Codec)
	}
	switch c.LLM.Provider {
	case "gateway", "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RUN_RATE_LIMIT must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RUN_RATE_WINDOW must be > 0")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must be >= 0")
	}
	if c.Mirror.Port == "" {
		return fmt.Errorf("MIRROR_PORT cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// parseUserTokens reads "token=user_id" pairs separated by commas.
func parseUserTokens(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, userID, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || userID == "" {
			return nil, fmt.Errorf("MIRROR_USER_TOKENS entry %q must be token=user_id", pair)
		}
		tokens[token] = userID
	}
	return tokens, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

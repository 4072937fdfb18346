// Package config provides configuration management for the gateway.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	LogLevel string

	Anthropic  BackendConfig
	OpenRouter BackendConfig
	Codex      BackendConfig

	// DefaultBackend receives model ids no prefix rule matches. Empty
	// means unmatched ids fail with a routing error.
	DefaultBackend string

	// CredentialsPath is the gateway's own credential file.
	CredentialsPath string

	Session SessionConfig
	Catalog CatalogConfig
}

// BackendConfig holds per-backend settings.
type BackendConfig struct {
	// APIKey authenticates key-based access; ignored by OAuth-only backends.
	APIKey string
	// BaseURL overrides the backend's default endpoint, mainly for tests.
	BaseURL string
}

// SessionConfig selects the conversation store backend.
type SessionConfig struct {
	// Type is "memory", "sqlite" or "postgres".
	Type        string
	SQLitePath  string
	PostgresURL string
}

// CatalogConfig controls the model catalog cache.
type CatalogConfig struct {
	// CachePath is the local cache file; ignored when RedisURL is set.
	CachePath string
	RedisURL  string
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // the .env file is optional

	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("SESSION_SQLITE_PATH", filepath.Join(home, ".llmgate", "sessions.db"))
	v.SetDefault("CREDENTIALS_PATH", filepath.Join(home, ".llmgate", "credentials.json"))
	v.SetDefault("MODEL_CACHE_PATH", filepath.Join(home, ".llmgate", "models.json"))

	cfg := &Config{
		LogLevel: v.GetString("LOG_LEVEL"),
		Anthropic: BackendConfig{
			APIKey:  v.GetString("ANTHROPIC_API_KEY"),
			BaseURL: v.GetString("ANTHROPIC_BASE_URL"),
		},
		OpenRouter: BackendConfig{
			APIKey:  v.GetString("OPENROUTER_API_KEY"),
			BaseURL: v.GetString("OPENROUTER_BASE_URL"),
		},
		Codex: BackendConfig{
			BaseURL: v.GetString("CODEX_BASE_URL"),
		},
		DefaultBackend:  v.GetString("DEFAULT_BACKEND"),
		CredentialsPath: v.GetString("CREDENTIALS_PATH"),
		Session: SessionConfig{
			Type:        v.GetString("SESSION_STORE"),
			SQLitePath:  v.GetString("SESSION_SQLITE_PATH"),
			PostgresURL: v.GetString("SESSION_POSTGRES_URL"),
		},
		Catalog: CatalogConfig{
			CachePath: v.GetString("MODEL_CACHE_PATH"),
			RedisURL:  v.GetString("MODEL_CACHE_REDIS_URL"),
		},
	}

	return cfg, nil
}

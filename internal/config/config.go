// Package config provides configuration for the relay service.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreConvex = "convex"
	StoreSQLite = "sqlite"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Completion provider
	OpenRouterURL     string
	OpenRouterAPIKey  string
	OpenRouterTimeout time.Duration
	TitleModel        string
	RelayMode         string

	// Document store
	StoreBackend  string
	ConvexURL     string
	ConvexAPIKey  string
	ConvexTimeout time.Duration
	DatabaseURL   string

	// Timeouts
	RelayTimeout time.Duration

	// Policy
	PolicyFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables, layered over an
// optional YAML file named by T4CHAT_CONFIG.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("T4CHAT_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPPort:          v.GetInt("HTTP_PORT"),
		OpenRouterURL:     v.GetString("OPENROUTER_URL"),
		OpenRouterAPIKey:  v.GetString("OPENROUTER_API_KEY"),
		OpenRouterTimeout: time.Duration(v.GetInt("OPENROUTER_TIMEOUT_MS")) * time.Millisecond,
		TitleModel:        v.GetString("TITLE_MODEL"),
		RelayMode:         v.GetString("RELAY_MODE"),
		StoreBackend:      v.GetString("STORE_BACKEND"),
		ConvexURL:         v.GetString("CONVEX_URL"),
		ConvexAPIKey:      v.GetString("CONVEX_API_KEY"),
		ConvexTimeout:     time.Duration(v.GetInt("CONVEX_TIMEOUT_MS")) * time.Millisecond,
		DatabaseURL:       v.GetString("DATABASE_URL"),
		RelayTimeout:      time.Duration(v.GetInt("RELAY_TIMEOUT_MS")) * time.Millisecond,
		PolicyFile:        v.GetString("POLICY_FILE"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
	}
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("OPENROUTER_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("OPENROUTER_TIMEOUT_MS", 0)
	v.SetDefault("TITLE_MODEL", "anthropic/claude-3-haiku")
	v.SetDefault("RELAY_MODE", "")
	v.SetDefault("STORE_BACKEND", StoreSQLite)
	v.SetDefault("CONVEX_TIMEOUT_MS", 10000)
	v.SetDefault("DATABASE_URL", "file:t4chat.db?cache=shared&mode=rwc")
	v.SetDefault("RELAY_TIMEOUT_MS", 600000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreConvex:
		if c.ConvexURL == "" || c.ConvexAPIKey == "" {
			return fmt.Errorf("CONVEX_URL and CONVEX_API_KEY are required for the convex store")
		}
	case StoreSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if !c.MockMode() && c.OpenRouterAPIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required unless RELAY_MODE=MOCK")
	}
	return nil
}

// MockMode reports whether the mock completion source is selected.
func (c *Config) MockMode() bool {
	return c.RelayMode == "MOCK"
}

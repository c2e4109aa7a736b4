// Package config handles loading and validating qbridge configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the qbridge gateway.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Backend  BackendConfig  `koanf:"backend"`
	Accounts AccountsConfig `koanf:"accounts"`
	Monitor  MonitorConfig  `koanf:"monitor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// BackendConfig holds the upstream endpoints and call budgets.
type BackendConfig struct {
	// APIEndpoint receives the translated conversation-state payloads.
	APIEndpoint string `koanf:"api_endpoint"`
	// AuthEndpoint is the token-refresh endpoint.
	AuthEndpoint string `koanf:"auth_endpoint"`
	// DefaultModel is substituted when a request omits the model id.
	DefaultModel string `koanf:"default_model"`

	RefreshTimeout time.Duration `koanf:"refresh_timeout"`
	ChatTimeout    time.Duration `koanf:"chat_timeout"`
}

// AccountsConfig holds the account pool settings.
type AccountsConfig struct {
	// File is the JSON account pool path.
	File string `koanf:"file"`
	// SweepInterval is how often the background renewal sweep runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// StaleAfter marks an account for renewal when its last refresh is older.
	StaleAfter time.Duration `koanf:"stale_after"`
}

// MonitorConfig holds request-log settings.
type MonitorConfig struct {
	Enabled bool   `koanf:"enabled"`
	DBPath  string `koanf:"db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3015,
		},
		Backend: BackendConfig{
			APIEndpoint:    "https://codewhisperer.us-east-1.amazonaws.com/",
			AuthEndpoint:   "https://oidc.us-east-1.amazonaws.com/token",
			DefaultModel:   "claude-sonnet-4.5",
			RefreshTimeout: 30 * time.Second,
			ChatTimeout:    5 * time.Minute,
		},
		Accounts: AccountsConfig{
			File:          "account.json",
			SweepInterval: 5 * time.Minute,
			StaleAfter:    25 * time.Minute,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			DBPath:  "qbridge.db",
		},
	}
}

// Load reads configuration from an optional YAML file, layers QBRIDGE_*
// environment variable overrides on top, and returns a populated Config.
func Load(path string) (*Config, error) {
	// .env is optional; ignored when absent.
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	// QBRIDGE_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("QBRIDGE_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "QBRIDGE_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	cfg.Backend.APIEndpoint = strings.TrimRight(cfg.Backend.APIEndpoint, "/")

	return cfg, nil
}

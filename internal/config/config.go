// Package config loads and validates the JSON configuration file. Values
// support ${VAR} and ${VAR:-default} environment substitution so secrets
// can stay out of the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration.
type Config struct {
	Account AccountConfig `json:"account"`
	Server  ServerConfig  `json:"server"`
	Store   StoreConfig   `json:"store"`
	Metrics MetricsConfig `json:"metrics"`
	Log     LogConfig     `json:"log"`
}

// AccountConfig identifies the Official Account and its webhook secret.
type AccountConfig struct {
	AppID  string `json:"appId"`
	Secret string `json:"secret"`
	// Token is the shared secret entered in the platform's webhook setup;
	// it participates in the request signature, not in API auth.
	Token string `json:"token"`
	// ClockSkewSeconds bounds webhook timestamp drift; 0 disables the
	// freshness check.
	ClockSkewSeconds int `json:"clockSkewSeconds"`
	// DebugEcho makes the default message hooks echo debug replies back to
	// the sender.
	DebugEcho bool `json:"debugEcho"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Addr string `json:"addr"`
	Path string `json:"path"`
}

// StoreConfig configures message/user/location persistence.
type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
	// UserRefreshHours is how long a stored user profile stays fresh before
	// the next inbound message from that user re-fetches it from the API.
	UserRefreshHours int `json:"userRefreshHours"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// Defaults returns the configuration defaults; Load overlays the file on
// top of them.
func Defaults() *Config {
	return &Config{
		Account: AccountConfig{
			ClockSkewSeconds: 600,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
			Path: "/wechat",
		},
		Store: StoreConfig{
			Enabled:          true,
			DBPath:           "~/.yawxt/yawxt.db",
			UserRefreshHours: 24,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the default config file location (~/.yawxt/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".yawxt", "config.json")
	}
	return filepath.Join(home, ".yawxt", "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Account.AppID == "" {
		errs = append(errs, "account.appId is required")
	}
	if cfg.Account.Secret == "" {
		errs = append(errs, "account.secret is required")
	}
	if cfg.Account.Token == "" {
		errs = append(errs, "account.token is required")
	}
	if cfg.Account.ClockSkewSeconds < 0 {
		errs = append(errs, "account.clockSkewSeconds must be >= 0")
	}

	if cfg.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		errs = append(errs, "server.path must start with /")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if cfg.Store.UserRefreshHours < 0 {
		errs = append(errs, "store.userRefreshHours must be >= 0")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

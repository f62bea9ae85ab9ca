// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix scopes environment overrides, e.g. STUNNEL_POOL_MAX_COUNT.
const envPrefix = "stunnel_pool"

// PoolConfig bounds the tunnel cache.
type PoolConfig struct {
	MaxCount       int `yaml:"max_count" envconfig:"MAX_COUNT"`
	MaxAgeMinutes  int `yaml:"max_age_minutes" envconfig:"MAX_AGE_MINUTES"`
	MaxIdleMinutes int `yaml:"max_idle_minutes" envconfig:"MAX_IDLE_MINUTES"`
}

// ConnectConfig controls the spawn retry budget.
type ConnectConfig struct {
	Attempts       int `yaml:"attempts" envconfig:"CONNECT_ATTEMPTS"`
	BackoffSeconds int `yaml:"backoff_seconds" envconfig:"CONNECT_BACKOFF_SECONDS"`
}

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds" envconfig:"UI_REFRESH_SECONDS"`
}

// Config holds application-level configuration.
type Config struct {
	StunnelPath    string        `yaml:"stunnel_path" envconfig:"STUNNEL_PATH"`
	VerifySentinel string        `yaml:"verify_sentinel" envconfig:"VERIFY_SENTINEL"`
	MetricsListen  string        `yaml:"metrics_listen" envconfig:"METRICS_LISTEN"`
	Pool           PoolConfig    `yaml:"pool"`
	Connect        ConnectConfig `yaml:"connect"`
	UI             UIConfig      `yaml:"ui"`
}

// Default returns the default configuration. The pool and connect numbers
// mirror the compiled-in limits so an empty config file changes nothing.
func Default() Config {
	return Config{
		Pool:    PoolConfig{MaxCount: 22, MaxAgeMinutes: 180, MaxIdleMinutes: 5},
		Connect: ConnectConfig{Attempts: 5, BackoffSeconds: 3},
		UI:      UIConfig{RefreshSeconds: 2},
	}
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/stunnel-pool.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "stunnel-pool"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "stunnel-pool"), nil
}

// TargetsFilePath returns the full path to targets.conf.
func TargetsFilePath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "targets.conf"), nil
}

// Load reads config.yaml from the config directory, creating it with
// defaults when missing, then applies STUNNEL_POOL_* environment
// overrides on top.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}
	return clamp(cfg), nil
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func clamp(cfg Config) Config {
	def := Default()
	if cfg.Pool.MaxCount <= 0 {
		cfg.Pool.MaxCount = def.Pool.MaxCount
	}
	if cfg.Pool.MaxAgeMinutes <= 0 {
		cfg.Pool.MaxAgeMinutes = def.Pool.MaxAgeMinutes
	}
	if cfg.Pool.MaxIdleMinutes <= 0 {
		cfg.Pool.MaxIdleMinutes = def.Pool.MaxIdleMinutes
	}
	if cfg.Connect.Attempts <= 0 {
		cfg.Connect.Attempts = def.Connect.Attempts
	}
	if cfg.Connect.BackoffSeconds <= 0 {
		cfg.Connect.BackoffSeconds = def.Connect.BackoffSeconds
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = def.UI.RefreshSeconds
	}
	return cfg
}

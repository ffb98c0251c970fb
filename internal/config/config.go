// Package config loads mst settings from a YAML file and MST_* environment
// variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MST_REMOTE_URL.
const EnvPrefix = "MST"

// Config is the effective configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app" yaml:"app"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Relay   RelayConfig   `mapstructure:"relay" yaml:"relay"`
	Inbox   InboxConfig   `mapstructure:"inbox" yaml:"inbox"`
	Tracker TrackerConfig `mapstructure:"tracker" yaml:"tracker"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// LogPath mirrors component logs into a rotated file when set.
	LogPath string `mapstructure:"log_path" yaml:"log_path"`
}

// StorageConfig locates the local cache.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// RemoteConfig points at a relay. An empty URL keeps the tracker local-only.
type RemoteConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// Timeout returns the remote timeout as a duration.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// RelayConfig configures `mst relay`.
type RelayConfig struct {
	Port   int    `mapstructure:"port" yaml:"port"`
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// InboxConfig configures the directory `mst watch` imports from.
type InboxConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// TrackerConfig holds tracker defaults.
type TrackerConfig struct {
	// DefaultStepsPerUnit applies until settings are stored or synced.
	DefaultStepsPerUnit int `mapstructure:"default_steps_per_unit" yaml:"default_steps_per_unit"`
}

// Dir returns the per-user data directory (~/.milestep).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".milestep"
	}
	return filepath.Join(home, ".milestep")
}

// DefaultPath returns where `mst config init` writes by default.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads configuration from configPath, or from config.yaml in the data
// directory or the working directory when configPath is empty. A missing file
// is not an error; defaults and environment overrides still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.App.LogPath = ExpandPath(cfg.App.LogPath)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Relay.DBPath = ExpandPath(cfg.Relay.DBPath)
	cfg.Inbox.Dir = ExpandPath(cfg.Inbox.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, ignoring files and the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always decode; a failure here is a programming error.
		panic(fmt.Sprintf("config: failed to decode defaults: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	dir := Dir()

	v.SetDefault("app.name", "milestep")
	v.SetDefault("app.log_path", "")

	v.SetDefault("storage.db_path", filepath.Join(dir, "milestep.db"))

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.timeout_sec", 10)

	v.SetDefault("relay.port", 8787)
	v.SetDefault("relay.db_path", filepath.Join(dir, "relay.db"))

	v.SetDefault("inbox.dir", filepath.Join(dir, "inbox"))

	v.SetDefault("tracker.default_steps_per_unit", 2000)
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path cannot be empty")
	}
	if c.Remote.TimeoutSec <= 0 {
		return fmt.Errorf("remote.timeout_sec must be positive (got %d)", c.Remote.TimeoutSec)
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port out of range (got %d)", c.Relay.Port)
	}
	if c.Tracker.DefaultStepsPerUnit <= 0 {
		return fmt.Errorf("tracker.default_steps_per_unit must be positive (got %d)", c.Tracker.DefaultStepsPerUnit)
	}
	return nil
}

// WriteFile writes cfg as YAML to path, creating parent directories. An
// existing file is only replaced when overwrite is set.
func WriteFile(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading ~ and $VARS in path.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Package config resolves Spindle's base directory and loads its
// ambient spindle.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is Spindle's ambient configuration, loaded from
// <SpindleDir>/spindle.yaml.
type Config struct {
	MaxConcurrent     int         `yaml:"max_concurrent"`
	RetentionHours    int         `yaml:"retention_hours"`
	DefaultHarness    string      `yaml:"default_harness"`
	DefaultPermission string      `yaml:"default_permission"`
	Shard             ShardConfig `yaml:"shard"`
}

// ShardConfig configures the default shard preset new spools fall
// back to when spin doesn't name one explicitly.
type ShardConfig struct {
	Preset string `yaml:"preset"`
}

// Defaults applied to any field spindle.yaml omits.
const (
	DefaultMaxConcurrent  = 15
	DefaultRetentionHours = 24
	DefaultHarnessName    = "claude"
	DefaultPermission     = "careful"
	DefaultShardPreset    = "default"
)

// SpindleDir returns Spindle's base directory: $SPINDLE_DIR if set,
// otherwise ~/.spindle.
func SpindleDir() string {
	if dir := os.Getenv("SPINDLE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".spindle")
	}
	return filepath.Join(home, ".spindle")
}

// ConfigDir is an alias for SpindleDir for call sites that just want
// "the base dir".
func ConfigDir() string { return SpindleDir() }

func defaultConfig() Config {
	return Config{
		MaxConcurrent:     DefaultMaxConcurrent,
		RetentionHours:    DefaultRetentionHours,
		DefaultHarness:    DefaultHarnessName,
		DefaultPermission: DefaultPermission,
		Shard:             ShardConfig{Preset: DefaultShardPreset},
	}
}

// Load reads spindle.yaml from <SpindleDir>/spindle.yaml. A missing
// file is not an error — it yields an all-defaults Config.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(SpindleDir(), "spindle.yaml"))
}

// LoadFrom reads and defaults a Config from the given path.
func LoadFrom(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.RetentionHours <= 0 {
		return fmt.Errorf("retention_hours must be positive, got %d", c.RetentionHours)
	}
	return nil
}

// ReloadSignalPath is the mtime-watched marker file `spindle reload`
// touches to ask a running supervisor to re-read spindle.yaml.
func ReloadSignalPath() string {
	return filepath.Join(SpindleDir(), "reload_signal")
}

// TouchReloadSignal updates the reload marker's mtime, creating both
// it and its parent directory if they don't exist yet.
func TouchReloadSignal() error {
	path := ReloadSignalPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create base dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("config: touch reload signal: %w", err)
	}
	defer f.Close()
	now := time.Now()
	return os.Chtimes(path, now, now)
}

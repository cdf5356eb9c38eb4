// Package config loads canopy's ambient runtime configuration — logging,
// the Groot2-style monitor port, and tick pacing. It never configures tree
// semantics: those come exclusively from BTCPP-4 XML (see pkg/factory).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the canopy CLI and monitor.
// It is loaded from ~/.canopy/config.yaml and can be overridden by
// CANOPY_-prefixed environment variables.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Tick    TickConfig    `mapstructure:"tick" yaml:"tick"`
}

// LoggingConfig configures the internal/logging sink.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is an optional path to a persistent log file.
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// Colored enables ANSI colored console output.
	Colored bool `mapstructure:"colored" yaml:"colored"`
}

// MonitorConfig configures the hosted-only Groot2-style monitor port.
// It is entirely optional: a tree can be built and ticked with the monitor
// disabled; the core itself never reads these.
type MonitorConfig struct {
	// Enabled marks the monitor as in use; Validate checks Port and
	// BindAddr only when it is set. The canopy CLI does not consult it:
	// `serve` always opens the monitor and `run` never does.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// BindAddr is the address the monitor server listens on.
	BindAddr string `mapstructure:"bind_addr" yaml:"bind_addr"`
	// Port is the TCP port for the monitor server.
	Port int `mapstructure:"port" yaml:"port"`
}

// TickConfig controls the pacing of tick_while_running.
type TickConfig struct {
	// YieldInterval is how long to sleep between reactive ticks while the
	// root is Running; zero or less only reschedules the goroutine.
	YieldInterval time.Duration `mapstructure:"yield_interval" yaml:"yield_interval"`
}

// Default returns the default canopy configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Colored: true,
		},
		Monitor: MonitorConfig{
			Enabled:  false,
			BindAddr: "127.0.0.1",
			Port:     1667, // matches Groot2's conventional default port
		},
		Tick: TickConfig{
			YieldInterval: 10 * time.Millisecond,
		},
	}
}

// Load reads configuration from the default location (~/.canopy/config.yaml),
// creating it with default values if absent.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".canopy", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it is created with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: CANOPY_MONITOR_PORT=1777
	v.SetEnvPrefix("CANOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return c.SaveToPath(filepath.Join(homeDir, ".canopy", "config.yaml"))
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.Monitor.Enabled {
		if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
			return fmt.Errorf("monitor.port must be between 1 and 65535, got %d", c.Monitor.Port)
		}
		if c.Monitor.BindAddr == "" {
			return fmt.Errorf("monitor.bind_addr cannot be empty when monitor is enabled")
		}
	}

	if c.Tick.YieldInterval < 0 {
		return fmt.Errorf("tick.yield_interval cannot be negative")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file using yaml struct tags.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

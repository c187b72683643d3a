package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/security"
)

// Config holds all application configuration
type Config struct {
	LogLevel string `mapstructure:"log-level"`

	// Key file handed to cryptsetup when none is given on the command line
	KeyFile string `mapstructure:"key-file"`

	// Let resize tools print progress and prompt
	Interactive bool `mapstructure:"interactive"`

	// Largest size an outer layer may add on top of its inner layer
	MaxOverhead int64 `mapstructure:"max-overhead"`
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("key-file", "")
	v.SetDefault("interactive", true)
	v.SetDefault("max-overhead", blockdevice.DefaultMaxOverhead)
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load on a specific viper instance
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Environment variables (will be LAYERSTACK_KEY_FILE, etc.)
	v.SetEnvPrefix("LAYERSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.layerstack")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Level converts LogLevel into a slog level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	return level, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.MaxOverhead <= 0 {
		return fmt.Errorf("max-overhead must be positive")
	}
	if c.KeyFile != "" {
		if err := security.ValidateKeyFile(c.KeyFile); err != nil {
			return fmt.Errorf("key-file: %w", err)
		}
	}
	return nil
}

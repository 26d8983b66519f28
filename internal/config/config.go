// Package config handles configuration loading and management for foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for foreman.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// LeaseConfig holds lease lifecycle tuning.
type LeaseConfig struct {
	BaseHours       float64       `mapstructure:"base_hours"`
	MinHours        float64       `mapstructure:"min_hours"`
	MaxHours        float64       `mapstructure:"max_hours"`
	DecayFactor     float64       `mapstructure:"decay_factor"`
	WarningHours    float64       `mapstructure:"warning_hours"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	StuckThreshold  int           `mapstructure:"stuck_threshold"`
}

// ResolverConfig holds cross-group dependency resolver tuning.
type ResolverConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxCandidates       int     `mapstructure:"max_candidates"`
	Workers             int     `mapstructure:"workers"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.foreman.yaml in current directory or parent)
// 3. User config (~/.config/foreman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("lease.base_hours", cfg.Lease.BaseHours)
	v.Set("lease.min_hours", cfg.Lease.MinHours)
	v.Set("lease.max_hours", cfg.Lease.MaxHours)
	v.Set("lease.decay_factor", cfg.Lease.DecayFactor)
	v.Set("lease.warning_hours", cfg.Lease.WarningHours)
	v.Set("lease.grace_period", cfg.Lease.GracePeriod.String())
	v.Set("lease.monitor_interval", cfg.Lease.MonitorInterval.String())
	v.Set("lease.stuck_threshold", cfg.Lease.StuckThreshold)
	v.Set("resolver.similarity_threshold", cfg.Resolver.SimilarityThreshold)
	v.Set("resolver.max_candidates", cfg.Resolver.MaxCandidates)
	v.Set("resolver.workers", cfg.Resolver.Workers)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("lease.base_hours", 2.0)
	v.SetDefault("lease.min_hours", 1.0)
	v.SetDefault("lease.max_hours", 24.0)
	v.SetDefault("lease.decay_factor", 0.9)
	v.SetDefault("lease.warning_hours", 0.5)
	v.SetDefault("lease.grace_period", "30m")
	v.SetDefault("lease.monitor_interval", "60s")
	v.SetDefault("lease.stuck_threshold", 5)

	v.SetDefault("resolver.similarity_threshold", 0.6)
	v.SetDefault("resolver.max_candidates", 10)
	v.SetDefault("resolver.workers", 4)
}

// getUserConfigDir returns the XDG config directory for foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".foreman.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{},
		Lease: LeaseConfig{
			BaseHours:       2.0,
			MinHours:        1.0,
			MaxHours:        24.0,
			DecayFactor:     0.9,
			WarningHours:    0.5,
			GracePeriod:     30 * time.Minute,
			MonitorInterval: 60 * time.Second,
			StuckThreshold:  5,
		},
		Resolver: ResolverConfig{
			SimilarityThreshold: 0.6,
			MaxCandidates:       10,
			Workers:             4,
		},
	}
}

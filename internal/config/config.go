// Package config handles configuration loading for the routing daemon.
// It supports XDG config paths, project-level overrides, environment
// variables, and a hot-reloaded agent roster file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Project   ProjectConfig   `mapstructure:"project"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
}

// AnthropicConfig holds LLM provider settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	MaxTokens     int    `mapstructure:"max_tokens"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// RoutingConfig holds routing policy settings.
type RoutingConfig struct {
	// RequirePlanApproval gates the move into execute on explicit plan
	// approval rather than just a plan summary.
	RequirePlanApproval bool `mapstructure:"require_plan_approval"`
	// AgentsFile is the path to the YAML agent roster.
	AgentsFile string `mapstructure:"agents_file"`
}

// ProjectConfig describes the project the agents work on.
type ProjectConfig struct {
	// Path is the project working tree.
	Path string `mapstructure:"path"`
	// Context is free text injected into routing prompts.
	Context string `mapstructure:"context"`
}

// TimeoutsConfig holds per-activity timeout settings.
type TimeoutsConfig struct {
	Plan    time.Duration `mapstructure:"plan"`
	Execute time.Duration `mapstructure:"execute"`
}

// DaemonConfig holds daemon runtime settings.
type DaemonConfig struct {
	// Pubkey is the router's transport identity.
	Pubkey string `mapstructure:"pubkey"`
	// PublishBuffer sizes the outbound event buffer.
	PublishBuffer int `mapstructure:"publish_buffer"`
	// DBPath overrides the default state database location.
	DBPath string `mapstructure:"db_path"`
}

// Load loads configuration with the usual precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.tenex.yaml in current directory or parent)
// 3. User config (~/.config/tenex/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
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

// LoadFromPath loads configuration from a specific file.
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

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("routing.require_plan_approval", true)
	v.SetDefault("routing.agents_file", "agents.yaml")

	v.SetDefault("project.path", ".")
	v.SetDefault("project.context", "")

	v.SetDefault("timeouts.plan", "5m")
	v.SetDefault("timeouts.execute", "30m")

	v.SetDefault("daemon.pubkey", "tenex-router")
	v.SetDefault("daemon.publish_buffer", 256)
	v.SetDefault("daemon.db_path", "")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Routing: RoutingConfig{
			RequirePlanApproval: true,
			AgentsFile:          "agents.yaml",
		},
		Project: ProjectConfig{Path: "."},
		Timeouts: TimeoutsConfig{
			Plan:    5 * time.Minute,
			Execute: 30 * time.Minute,
		},
		Daemon: DaemonConfig{
			Pubkey:        "tenex-router",
			PublishBuffer: 256,
		},
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory for the daemon.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tenex")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "tenex")
	}
	return filepath.Join(home, ".config", "tenex")
}

// findProjectConfig searches for .tenex.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".tenex.yaml")
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

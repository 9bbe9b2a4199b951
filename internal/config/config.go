// Package config loads undercity configuration. It supports XDG config
// paths, a project-level .undercity.yaml override, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for undercity.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Run       RunConfig       `mapstructure:"run"`
	Commands  CommandsConfig  `mapstructure:"commands"`
	Health    HealthConfig    `mapstructure:"health"`
	Git       GitConfig       `mapstructure:"git"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// RunConfig holds orchestration settings.
type RunConfig struct {
	// MaxConcurrent caps parallel workers.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// StateDir overrides the state directory; empty means
	// .undercity inside the repository.
	StateDir string `mapstructure:"state_dir"`
	// KeepFailedWorkspaces leaves failed tasks' worktrees on disk.
	KeepFailedWorkspaces bool `mapstructure:"keep_failed_workspaces"`
}

// CommandsConfig holds the project's quality gate commands.
type CommandsConfig struct {
	Typecheck  string `mapstructure:"typecheck"`
	Lint       string `mapstructure:"lint"`
	Test       string `mapstructure:"test"`
	Build      string `mapstructure:"build"`
	Format     string `mapstructure:"format"`
	Spell      string `mapstructure:"spell"`
	CodeHealth string `mapstructure:"code_health"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`
}

// GitConfig holds trunk repository settings.
type GitConfig struct {
	// DefaultBranch is the branch the merge queue lands on.
	DefaultBranch string `mapstructure:"default_branch"`
}

// Load reads configuration with the following precedence, highest
// first: environment variables, project .undercity.yaml, user config
// under the XDG config directory, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("UNDERCITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from one explicit file, for tests.
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

// setDefaults configures built-in defaults. Command defaults assume a
// Go project; projects override them in .undercity.yaml.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("run.max_concurrent", 3)
	v.SetDefault("run.state_dir", "")
	v.SetDefault("run.keep_failed_workspaces", false)

	v.SetDefault("commands.typecheck", "go vet ./...")
	v.SetDefault("commands.lint", "")
	v.SetDefault("commands.test", "go test ./...")
	v.SetDefault("commands.build", "go build ./...")
	v.SetDefault("commands.format", "gofmt -w .")
	v.SetDefault("commands.spell", "")
	v.SetDefault("commands.code_health", "")

	v.SetDefault("health.interval", "60s")
	v.SetDefault("health.stuck_threshold", "300s")

	v.SetDefault("git.default_branch", "main")
}

// userConfigDir returns the XDG config directory for undercity.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "undercity")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "undercity")
	}
	return filepath.Join(home, ".config", "undercity")
}

// findProjectConfig searches for .undercity.yaml in the working
// directory and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(cwd, ".undercity.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// Package config loads the Orchestrator Entry's layered configuration,
// grounded on None9527-NGOClaw's viper-based config.Load: defaults, then a
// global ~/.taskweave/config.yaml, then a project-local ./config.yaml
// merged on top, then TASKWEAVE_-prefixed environment variables, in
// ascending priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the Orchestrator Entry's full runtime configuration.
type Config struct {
	AWS      AWSConfig              `mapstructure:"aws" yaml:"aws"`
	Store    StoreConfig            `mapstructure:"store" yaml:"store"`
	Launch   LaunchConfig           `mapstructure:"launch" yaml:"launch"`
	Models   map[string]string      `mapstructure:"models" yaml:"models,omitempty"`
	Log      LogConfig              `mapstructure:"log" yaml:"log"`
	Janitor  JanitorConfig          `mapstructure:"janitor" yaml:"janitor"`
	Runtimes map[string]RuntimeSpec `mapstructure:"runtimes" yaml:"runtimes,omitempty"`
}

// AWSConfig configures Bedrock access.
type AWSConfig struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Profile         string `mapstructure:"profile" yaml:"profile,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token,omitempty"`
}

// StoreConfig selects and configures the State Store Client.
type StoreConfig struct {
	// Backend is "redis" or "sqlite".
	Backend    string `mapstructure:"backend" yaml:"backend"`
	RedisAddr  string `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`
}

// LaunchConfig configures the Task Launcher.
type LaunchConfig struct {
	Entrypoint string `mapstructure:"entrypoint" yaml:"entrypoint,omitempty"`
	WorkDir    string `mapstructure:"work_dir" yaml:"work_dir,omitempty"`
	MaxTasks   int    `mapstructure:"max_tasks" yaml:"max_tasks,omitempty"`
}

// LogConfig configures slog's default handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// JanitorConfig configures the Root Janitor's sweep cadence.
type JanitorConfig struct {
	CronSpec string `mapstructure:"cron_spec" yaml:"cron_spec,omitempty"`
}

// RuntimeSpec configures an optional container runtime image, keyed by
// task isolation mode name (e.g. "container").
type RuntimeSpec struct {
	Image string `mapstructure:"image" yaml:"image"`
}

// Load reads the layered configuration the way config.Load does: defaults,
// global config, local override, then environment.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := Home()
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read global config: %w", err)
		}
	}

	localPath := cfgFile
	if localPath == "" {
		localPath = "./config.yaml"
	}
	if _, err := os.Stat(localPath); err == nil {
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(v2.AllSettings()); err != nil {
				return nil, fmt.Errorf("config: merge local config: %w", err)
			}
		}
	} else if cfgFile != "" {
		return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
	}

	v.SetEnvPrefix("TASKWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", DefaultDBPath())
	v.SetDefault("store.redis_addr", "localhost:6379")

	v.SetDefault("launch.entrypoint", "taskweave-runtime")
	v.SetDefault("launch.work_dir", DefaultWorkDir())
	v.SetDefault("launch.max_tasks", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("janitor.cron_spec", "@every 5m")

	v.SetDefault("models.sonnet45", "us.anthropic.claude-sonnet-4-5-20250929-v1:0")
	v.SetDefault("models.haiku45", "us.anthropic.claude-haiku-4-5-20251001-v1:0")
}

// ConfigDir returns the directory holding the global config file, creating
// it if missing.
func ConfigDir() (string, error) {
	dir := Home()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// GlobalConfigPath returns the path `taskweave init` writes to.
func GlobalConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Package config loads namesync configuration with viper.
//
// Sources, in precedence order: explicit flags handled by the CLI, then
// NAMESYNC_* environment variables, then the config file (yaml or toml),
// then the defaults below.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	// Authoritative ledger RPC endpoint.
	L1Endpoint string `mapstructure:"l1_endpoint"`

	// Fast ledger RPC endpoint.
	L2Endpoint string `mapstructure:"l2_endpoint"`

	// Content store endpoint.
	ContentEndpoint string `mapstructure:"content_endpoint"`

	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ApplyInterval time.Duration `mapstructure:"apply_interval"`
	SafetyWindow  uint64        `mapstructure:"safety_window"`
	MaxRetries    int           `mapstructure:"max_retries"`

	// ConfirmationDepth is how many blocks an L2 batch write must be
	// buried under before it counts as durable.
	ConfirmationDepth int `mapstructure:"confirmation_depth"`

	DefaultTTL      uint32 `mapstructure:"default_ttl"`
	VerifyByDefault bool   `mapstructure:"verify_by_default"`

	TierTimeout time.Duration `mapstructure:"tier_timeout"`

	// JournalPath is the SQLite checkpoint journal; empty disables it.
	JournalPath string `mapstructure:"journal_path"`

	// FallbackRecordsPath is a TOML file with the degraded record set;
	// empty uses the built-in default.
	FallbackRecordsPath string `mapstructure:"fallback_records_path"`

	// StatsPort is the stats server listen port; 0 disables the server.
	StatsPort int `mapstructure:"stats_port"`

	// LogFile enables rotating file logging; empty logs to stderr.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("apply_interval", 5*time.Second)
	v.SetDefault("safety_window", 10_000)
	v.SetDefault("max_retries", 3)
	v.SetDefault("confirmation_depth", 1)
	v.SetDefault("default_ttl", 3600)
	v.SetDefault("verify_by_default", false)
	v.SetDefault("tier_timeout", 5*time.Second)
	v.SetDefault("journal_path", ".namesync/journal.db")
	v.SetDefault("stats_port", 8640)
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
}

// Load reads configuration. path may name a specific file; when empty the
// usual search path is used ($PWD, $HOME/.namesync).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("namesync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.namesync")
	}

	v.SetEnvPrefix("NAMESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when no explicit path was given;
		// defaults plus environment still apply.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-runs onChange whenever the loaded config file changes on disk.
// It must be called after Load with the same path semantics.
func Watch(path string, onChange func()) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("namesync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.namesync")
	}
	if err := v.ReadInConfig(); err != nil {
		return // nothing to watch
	}
	v.OnConfigChange(func(fsnotify.Event) { onChange() })
	v.WatchConfig()
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.ApplyInterval <= 0 {
		return fmt.Errorf("apply_interval must be positive, got %s", c.ApplyInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.ConfirmationDepth < 0 {
		return fmt.Errorf("confirmation_depth cannot be negative, got %d", c.ConfirmationDepth)
	}
	if c.DefaultTTL == 0 {
		return fmt.Errorf("default_ttl must be positive")
	}
	return nil
}

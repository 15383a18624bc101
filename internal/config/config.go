package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/reclaimarr/reclaimarr/internal/arr"
	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/notification"
	"github.com/reclaimarr/reclaimarr/internal/queue"
	"github.com/reclaimarr/reclaimarr/internal/rules"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig              `mapstructure:"server"`
	Database      DatabaseConfig            `mapstructure:"database"`
	Logging       LoggingConfig             `mapstructure:"logging"`
	Retention     RetentionConfig           `mapstructure:"retention"`
	History       history.RetentionSettings `mapstructure:"history"`
	Sonarr        arr.Config                `mapstructure:"sonarr"`
	Radarr        arr.Config                `mapstructure:"radarr"`
	Overseerr     arr.Config                `mapstructure:"overseerr"`
	Breaker       arr.BreakerConfig         `mapstructure:"circuit_breaker"`
	Notifications notification.Config       `mapstructure:"notifications"`
	// RulesFile is a YAML file of rules imported at startup.
	RulesFile string `mapstructure:"rules_file"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RetentionConfig holds rule evaluation, protection and queue settings.
type RetentionConfig struct {
	BatchSize  int                    `mapstructure:"batch_size"`
	DryRun     bool                   `mapstructure:"dry_run"`
	Protection rules.ProtectionConfig `mapstructure:"protection"`
	Queue      queue.Config           `mapstructure:"queue"`
	Schedule   ScheduleConfig         `mapstructure:"schedule"`
}

// ScheduleConfig holds the cron expressions of the background tasks.
type ScheduleConfig struct {
	Evaluation     string `mapstructure:"evaluation"`
	Sweep          string `mapstructure:"sweep"`
	HistoryCleanup string `mapstructure:"history_cleanup"`
	// RunOnStart evaluates rules and sweeps the queue once at startup.
	RunOnStart bool `mapstructure:"run_on_start"`
}

// Rules returns the rule engine settings.
func (c RetentionConfig) Rules() rules.Config {
	return rules.Config{BatchSize: c.BatchSize, DryRun: c.DryRun}
}

// Default returns a Config with default values.
func Default() *Config {
	protection := rules.DefaultProtectionConfig()
	q := queue.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7474,
		},
		Database: DatabaseConfig{
			Path: "./data/reclaimarr.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Retention: RetentionConfig{
			BatchSize:  0,
			Protection: protection,
			Queue:      q,
			Schedule: ScheduleConfig{
				Evaluation:     "0 3 * * *",
				Sweep:          "0 * * * *",
				HistoryCleanup: "0 2 * * *",
			},
		},
		History:       history.DefaultRetentionSettings(),
		Breaker:       arr.DefaultBreakerConfig(),
		Notifications: notification.DefaultConfig(),
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v, Default())

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.reclaimarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("RECLAIMARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so environment variables can
// override keys that no config file mentions.
func setDefaults(v *viper.Viper, d *Config) {
	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	// Database defaults
	v.SetDefault("database.path", d.Database.Path)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	// Retention defaults
	r := d.Retention
	v.SetDefault("retention.batch_size", r.BatchSize)
	v.SetDefault("retention.dry_run", r.DryRun)
	v.SetDefault("retention.protection.protect_recently_added", r.Protection.ProtectRecentlyAdded)
	v.SetDefault("retention.protection.recently_added_days", r.Protection.RecentlyAddedDays)
	v.SetDefault("retention.protection.protect_recently_watched", r.Protection.ProtectRecentlyWatched)
	v.SetDefault("retention.protection.recently_watched_days", r.Protection.RecentlyWatchedDays)
	v.SetDefault("retention.protection.protect_in_progress", r.Protection.ProtectInProgress)
	v.SetDefault("retention.protection.protected_genres", []string{})
	v.SetDefault("retention.protection.protected_tags", []string{})
	v.SetDefault("retention.queue.default_grace_period_days", r.Queue.DefaultGracePeriodDays)
	v.SetDefault("retention.queue.default_deletion_action", string(r.Queue.DefaultDeletionAction))
	v.SetDefault("retention.queue.item_timeout", r.Queue.ItemTimeout)
	v.SetDefault("retention.queue.stream_buffer", r.Queue.StreamBuffer)
	v.SetDefault("retention.schedule.evaluation", r.Schedule.Evaluation)
	v.SetDefault("retention.schedule.sweep", r.Schedule.Sweep)
	v.SetDefault("retention.schedule.history_cleanup", r.Schedule.HistoryCleanup)
	v.SetDefault("retention.schedule.run_on_start", r.Schedule.RunOnStart)

	// History defaults
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.retention_days", d.History.RetentionDays)

	// External services, disabled until a URL and key are given
	for _, svc := range []string{"sonarr", "radarr", "overseerr"} {
		v.SetDefault(svc+".url", "")
		v.SetDefault(svc+".api_key", "")
		v.SetDefault(svc+".timeout", 30)
		v.SetDefault(svc+".skip_ssl_verify", false)
	}
	v.SetDefault("circuit_breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("circuit_breaker.open_timeout", d.Breaker.OpenTimeout)

	// Notification defaults
	v.SetDefault("notifications.timeout", d.Notifications.Timeout)
	v.SetDefault("notifications.discord.enabled", false)
	v.SetDefault("notifications.discord.webhook_url", "")
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")

	v.SetDefault("rules_file", "")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	r := c.Retention
	if r.BatchSize < 0 {
		errs = append(errs, errors.New("retention.batch_size must not be negative"))
	}
	if r.Protection.RecentlyAddedDays < 0 || r.Protection.RecentlyWatchedDays < 0 {
		errs = append(errs, errors.New("retention.protection day thresholds must not be negative"))
	}
	if r.Queue.DefaultGracePeriodDays < 0 {
		errs = append(errs, errors.New("retention.queue.default_grace_period_days must not be negative"))
	}
	if a := r.Queue.DefaultDeletionAction; a != "" && !a.Valid() {
		errs = append(errs, fmt.Errorf("retention.queue.default_deletion_action %q is not one of %s", a, actionList()))
	}
	if r.Queue.ItemTimeout < 0 {
		errs = append(errs, errors.New("retention.queue.item_timeout must not be negative"))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, expr := range map[string]string{
		"evaluation":      r.Schedule.Evaluation,
		"sweep":           r.Schedule.Sweep,
		"history_cleanup": r.Schedule.HistoryCleanup,
	} {
		if _, err := parser.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("retention.schedule.%s: %w", name, err))
		}
	}

	if c.Notifications.Timeout < 0 {
		errs = append(errs, errors.New("notifications.timeout must not be negative"))
	}
	if c.Breaker.OpenTimeout < 0 {
		errs = append(errs, errors.New("circuit_breaker.open_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

func actionList() string {
	actions := []media.DeletionAction{
		media.ActionUnmonitorOnly,
		media.ActionDeleteFilesOnly,
		media.ActionUnmonitorAndDelete,
		media.ActionFullRemoval,
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ItemTimeout returns the per-item deletion timeout.
func (c RetentionConfig) ItemTimeout() time.Duration {
	return c.Queue.ItemTimeout
}

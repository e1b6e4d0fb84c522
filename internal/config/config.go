// Package config loads and validates goldenaxe configuration from defaults,
// an optional YAML file, a .env file and GOLDEN_AXE_* environment variables.
package config

import (
	"time"

	"github.com/edgard/goldenaxe/internal/engine"
)

// Update delivery modes.
const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"
)

// Config is the root configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  engine.Messages `mapstructure:"messages"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the bot credential and update delivery settings.
type TelegramConfig struct {
	Token         string `mapstructure:"token"          validate:"required"`
	Mode          string `mapstructure:"mode"           validate:"oneof=poll webhook"`
	WebhookDomain string `mapstructure:"webhook_domain" validate:"required_if=Mode webhook"`
	ListenAddr    string `mapstructure:"listen_addr"    validate:"required"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// DebugChatID receives error reports and lifecycle notices. Zero disables it.
	DebugChatID int64 `mapstructure:"debug_chat_id"`
}

// EngineConfig tunes dispatch, retries and the title policy.
type EngineConfig struct {
	Workers        int           `mapstructure:"workers"          validate:"gt=0"`
	QueueSize      int           `mapstructure:"queue_size"       validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts"     validate:"gt=0"`
	BaseDelay      time.Duration `mapstructure:"base_delay"       validate:"gt=0"`
	Multiplier     float64       `mapstructure:"multiplier"       validate:"gte=1"`
	MaxDelay       time.Duration `mapstructure:"max_delay"        validate:"gtefield=BaseDelay"`
	Jitter         float64       `mapstructure:"jitter"           validate:"gte=0,lt=1"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"  validate:"gt=0"`
	AdminCacheTTL  time.Duration `mapstructure:"admin_cache_ttl"  validate:"gte=0"`
	MaxTitleLength int           `mapstructure:"max_title_length" validate:"gt=0"`
	AllowSelfTitle bool          `mapstructure:"allow_self_title"`
	ReportBuffer   int           `mapstructure:"report_buffer"    validate:"gt=0"`
}

// DatabaseConfig points at the SQLite database holding the title registry.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SchedulerConfig lists background tasks by registry name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task on a cron schedule (seconds field allowed).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// RetryPolicy converts the engine settings into the engine's retry policy.
func (c EngineConfig) RetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Multiplier:  c.Multiplier,
		MaxDelay:    c.MaxDelay,
		Jitter:      c.Jitter,
	}
}

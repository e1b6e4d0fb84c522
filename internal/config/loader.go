package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/edgard/goldenaxe/internal/database"
	"github.com/edgard/goldenaxe/internal/engine"
)

// EnvPrefix prefixes every environment variable the bot reads.
const EnvPrefix = "GOLDEN_AXE"

// ErrConfiguration wraps every loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// legacyEnv maps short variable names still accepted for compatibility
// with older deployments.
var legacyEnv = map[string]string{
	"logger.level":            "GOLDEN_AXE_LOG",
	"telegram.token":          "GOLDEN_AXE_TOKEN",
	"telegram.mode":           "GOLDEN_AXE_MODE",
	"telegram.webhook_domain": "GOLDEN_AXE_DOMAIN",
	"telegram.debug_chat_id":  "GOLDEN_AXE_DEBUG_CHAT",
}

// LoadConfig loads configuration in order of increasing precedence: built-in
// defaults, the YAML file at path (skipped when empty or missing), and
// environment variables, including any set by a .env file in the working
// directory. The result is validated before it is returned.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load .env file: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		full := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(key, full, env); err != nil {
			return nil, fmt.Errorf("%w: failed to bind %s: %v", ErrConfiguration, env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
			}
			// A missing file is fine; defaults and the environment still apply.
			slog.Debug("Config file not found, using defaults and environment", "path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate checks field constraints on cfg.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// setDefaults registers every key so environment variables can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.mode", ModePoll)
	v.SetDefault("telegram.webhook_domain", "")
	v.SetDefault("telegram.listen_addr", ":8080")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.debug_chat_id", 0)

	retry := engine.DefaultRetryPolicy()
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.max_attempts", retry.MaxAttempts)
	v.SetDefault("engine.base_delay", retry.BaseDelay)
	v.SetDefault("engine.multiplier", retry.Multiplier)
	v.SetDefault("engine.max_delay", retry.MaxDelay)
	v.SetDefault("engine.jitter", retry.Jitter)
	v.SetDefault("engine.attempt_timeout", 15*time.Second)
	v.SetDefault("engine.admin_cache_ttl", 2*time.Minute)
	v.SetDefault("engine.max_title_length", 16)
	v.SetDefault("engine.allow_self_title", false)
	v.SetDefault("engine.report_buffer", 64)

	v.SetDefault("database.path", database.DefaultPath)

	v.SetDefault("scheduler.tasks.update_ledger_prune.enabled", true)
	v.SetDefault("scheduler.tasks.update_ledger_prune.schedule", "0 */10 * * * *")
	v.SetDefault("scheduler.tasks.admin_cache_sweep.enabled", true)
	v.SetDefault("scheduler.tasks.admin_cache_sweep.schedule", "30 */5 * * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * *")

	msgs := engine.DefaultMessages()
	for key, text := range map[string]string{
		"help":              msgs.Help,
		"applied":           msgs.Applied,
		"cleared":           msgs.Cleared,
		"demoted":           msgs.Demoted,
		"not_in_group":      msgs.NotInGroup,
		"malformed":         msgs.Malformed,
		"title_too_long":    msgs.TitleTooLong,
		"title_in_use":      msgs.TitleInUse,
		"not_admin":         msgs.NotAdmin,
		"target_is_bot":     msgs.TargetIsBot,
		"platform_rejected": msgs.PlatformRejected,
		"deferred":          msgs.Deferred,
		"shutting_down":     msgs.ShuttingDown,
		"internal":          msgs.Internal,
		"no_titles":         msgs.NoTitles,
		"titles_header":     msgs.TitlesHeader,
	} {
		v.SetDefault("messages."+key, text)
	}
}

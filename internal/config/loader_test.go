package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgard/goldenaxe/internal/database"
	"github.com/edgard/goldenaxe/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GOLDEN_AXE_TELEGRAM_TOKEN", "123:abc")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, ModePoll, cfg.Telegram.Mode)
	require.Equal(t, ":8080", cfg.Telegram.ListenAddr)
	require.Equal(t, "info", cfg.Logger.Level)
	require.Equal(t, database.DefaultPath, cfg.Database.Path)
	require.Equal(t, 16, cfg.Engine.MaxTitleLength)
	require.Equal(t, engine.DefaultRetryPolicy(), cfg.Engine.RetryPolicy())
	require.Equal(t, engine.DefaultMessages(), cfg.Messages)

	require.Len(t, cfg.Scheduler.Tasks, 3)
	require.Equal(t, TaskConfig{Enabled: true, Schedule: "0 */10 * * * *"}, cfg.Scheduler.Tasks["update_ledger_prune"])
}

func TestLoadConfigLegacyEnv(t *testing.T) {
	t.Setenv("GOLDEN_AXE_TOKEN", "123:legacy")
	t.Setenv("GOLDEN_AXE_LOG", "debug")
	t.Setenv("GOLDEN_AXE_MODE", "webhook")
	t.Setenv("GOLDEN_AXE_DOMAIN", "bot.example.com")
	t.Setenv("GOLDEN_AXE_DEBUG_CHAT", "-42")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "123:legacy", cfg.Telegram.Token)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, ModeWebhook, cfg.Telegram.Mode)
	require.Equal(t, "bot.example.com", cfg.Telegram.WebhookDomain)
	require.Equal(t, int64(-42), cfg.Telegram.DebugChatID)
}

func TestLoadConfigFileAndOverrides(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:file"
engine:
  workers: 8
  base_delay: 2s
  max_delay: 1m
  allow_self_title: true
messages:
  applied: "Title set."
scheduler:
  tasks:
    sql_maintenance:
      enabled: false
`)
	t.Setenv("GOLDEN_AXE_ENGINE_WORKERS", "2")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "123:file", cfg.Telegram.Token)
	require.Equal(t, 2, cfg.Engine.Workers, "environment wins over the file")
	require.Equal(t, 2*time.Second, cfg.Engine.BaseDelay)
	require.Equal(t, time.Minute, cfg.Engine.MaxDelay)
	require.True(t, cfg.Engine.AllowSelfTitle)
	require.Equal(t, "Title set.", cfg.Messages.Applied)
	require.Equal(t, engine.DefaultMessages().Cleared, cfg.Messages.Cleared)
	require.False(t, cfg.Scheduler.Tasks["sql_maintenance"].Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("GOLDEN_AXE_TELEGRAM_TOKEN", "123:abc")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		message string
	}{
		{
			name:    "Missing token",
			message: "Telegram.Token",
		},
		{
			name:    "Webhook without domain",
			env:     map[string]string{"GOLDEN_AXE_TOKEN": "1:a", "GOLDEN_AXE_MODE": "webhook"},
			message: "Telegram.WebhookDomain",
		},
		{
			name:    "Unknown mode",
			env:     map[string]string{"GOLDEN_AXE_TOKEN": "1:a", "GOLDEN_AXE_MODE": "carrier-pigeon"},
			message: "Telegram.Mode",
		},
		{
			name:    "Max delay below base delay",
			env:     map[string]string{"GOLDEN_AXE_TOKEN": "1:a"},
			file:    "engine:\n  base_delay: 10s\n  max_delay: 1s\n",
			message: "Engine.MaxDelay",
		},
		{
			name:    "Jitter out of range",
			env:     map[string]string{"GOLDEN_AXE_TOKEN": "1:a"},
			file:    "engine:\n  jitter: 1.5\n",
			message: "Engine.Jitter",
		},
		{
			name:    "Enabled task without schedule",
			env:     map[string]string{"GOLDEN_AXE_TOKEN": "1:a"},
			file:    "scheduler:\n  tasks:\n    custom:\n      enabled: true\n",
			message: "Schedule",
		},
		{
			name:    "Malformed file",
			env:     map[string]string{"GOLDEN_AXE_TOKEN": "1:a"},
			file:    "engine: [unclosed\n",
			message: "failed to read config file",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeConfig(t, tc.file)
			}

			_, err := LoadConfig(path)
			require.ErrorIs(t, err, ErrConfiguration)
			require.ErrorContains(t, err, tc.message)
		})
	}
}

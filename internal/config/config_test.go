package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"BOT_TOKEN", "WEBHOOK_URL", "PORT", "HTTP_ADDR"} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultMoviesChannelID, cfg.Content.MoviesChannelID)
	assert.Equal(t, DefaultSeriesChannelID, cfg.Content.SeriesChannelID)
	assert.Equal(t, 3, cfg.Quota.FreeLimit)
	assert.Equal(t, time.Hour, cfg.Membership.Window())
	assert.Equal(t, 1200*time.Millisecond, cfg.Relay.PacingDuration())
	assert.Equal(t, BatchCountingPerBatch, cfg.Relay.BatchCounting)
}

func TestLoadDecodesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[quota]
free_limit = 5

[membership]
verification_window = "30m"

[[membership.required_channels]]
id = -1001
name = "Avisos"
invite_url = "https://t.me/+abc"

[[membership.required_channels]]
id = -1002

[relay]
batch_counting = "per_item"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Quota.FreeLimit)
	assert.Equal(t, 30*time.Minute, cfg.Membership.Window())
	assert.Equal(t, []int64{-1001, -1002}, cfg.Membership.ChannelIDs())
	assert.Equal(t, "Avisos", cfg.Membership.RequiredChannels[0].Name)
	assert.Equal(t, BatchCountingPerItem, cfg.Relay.BatchCounting)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultProgressEvery, cfg.Relay.ProgressEvery)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":  "[relay]\npacing = \"soon\"\n",
		"bad counting":  "[relay]\nbatch_counting = \"sometimes\"\n",
		"same channels": "[content]\nmovies_channel_id = -5\nseries_channel_id = -5\n",
		"bad log level": "[log]\nlevel = \"loud\"\n",
		"zero workers":  "[dispatch]\nworkers = 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"BOT_TOKEN":   " 123:abc ",
		"WEBHOOK_URL": "https://bot.example.com/",
		"PORT":        "9090",
	}
	cfg := Default()
	applyEnv(&cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/webhook/123:abc", cfg.Telegram.WebhookPath())
	assert.Equal(t, "https://bot.example.com/webhook/123:abc", cfg.Telegram.WebhookTarget())
}

func TestApplyEnvIgnoresInvalidPort(t *testing.T) {
	t.Parallel()

	cfg := Default()
	applyEnv(&cfg, func(key string) (string, bool) {
		if key == "PORT" {
			return "not-a-port", true
		}
		return "", false
	})
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
}

func TestWebhookTargetEmptyWithoutURL(t *testing.T) {
	t.Parallel()

	cfg := TelegramConfig{BotToken: "t"}
	assert.Empty(t, cfg.WebhookTarget())
}

func TestAdminIsAdmin(t *testing.T) {
	t.Parallel()

	open := AdminConfig{}
	assert.True(t, open.IsAdmin(42))

	restricted := AdminConfig{UserIDs: []int64{7}}
	assert.True(t, restricted.IsAdmin(7))
	assert.False(t, restricted.IsAdmin(42))
}

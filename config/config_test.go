package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key FromEnv reads so the host environment can't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BOT_TOKEN", "ADMIN_CHAT_ID", "ALLOWED_CHAT_IDS", "TELEGRAM_MODE", "WEBHOOK_URL",
		"WEBHOOK_SECRET", "TELEGRAM_MARKDOWN", "TELEGRAM_API_URL", "DERIV_WS_URL",
		"DERIV_APP_ID", "SYMBOL", "CANDLE_COUNT", "FETCH_TIMEOUT", "SIGNAL_COOLDOWN",
		"RETRY_DELAY", "ERROR_DELAY", "SKIP_MALFORMED_CANDLES", "REDIS_ADDR",
		"REDIS_PASSWORD", "REDIS_SIGNAL_CHANNEL", "HTTP_ADDR", "PORT",
		"ALERT_WEBHOOK_URL", "LOG_LEVEL", "STAGING_MODE", "SIM_WS_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, ModePolling, cfg.TelegramMode)
	assert.Equal(t, "R_75", cfg.Symbol)
	assert.Equal(t, 10, cfg.CandleCount)
	assert.Equal(t, 10*time.Second, cfg.SignalCooldown)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 3*time.Second, cfg.ErrorDelay)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.RedisAddr)
	assert.Zero(t, cfg.AdminChatID)
	assert.Nil(t, cfg.AllowedChatIDs)
	assert.False(t, cfg.SkipMalformedCandles)
	assert.Equal(t, cfg.DerivWSURL, cfg.CandleURL())
	assert.Equal(t, "/webhook", cfg.WebhookPath())
}

func TestFromEnv_MissingToken(t *testing.T) {
	clearEnv(t)

	_, err := FromEnv()
	assert.ErrorContains(t, err, "BOT_TOKEN")
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "t")
	t.Setenv("ADMIN_CHAT_ID", "-1001234")
	t.Setenv("ALLOWED_CHAT_IDS", "1, 2,,-3")
	t.Setenv("SYMBOL", "R_50")
	t.Setenv("SIGNAL_COOLDOWN", "30")
	t.Setenv("RETRY_DELAY", "1500ms")
	t.Setenv("SKIP_MALFORMED_CANDLES", "true")
	t.Setenv("PORT", "10000")
	t.Setenv("STAGING_MODE", "1")
	t.Setenv("SIM_WS_URL", "ws://sim:9000/ws")
	t.Setenv("WEBHOOK_SECRET", "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, int64(-1001234), cfg.AdminChatID)
	assert.Equal(t, []int64{1, 2, -3}, cfg.AllowedChatIDs)
	assert.Equal(t, "R_50", cfg.Symbol)
	assert.Equal(t, 30*time.Second, cfg.SignalCooldown)
	assert.Equal(t, 1500*time.Millisecond, cfg.RetryDelay)
	assert.True(t, cfg.SkipMalformedCandles)
	assert.Equal(t, ":10000", cfg.HTTPAddr)
	assert.Equal(t, "ws://sim:9000/ws", cfg.CandleURL())
	assert.Equal(t, "/webhook/s3cret", cfg.WebhookPath())
}

func TestFromEnv_HTTPAddrWinsOverPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "t")
	t.Setenv("PORT", "10000")
	t.Setenv("HTTP_ADDR", "127.0.0.1:9090")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
}

func TestFromEnv_ReportsEveryBadKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "t")
	t.Setenv("CANDLE_COUNT", "ten")
	t.Setenv("TELEGRAM_MARKDOWN", "maybe")
	t.Setenv("ALLOWED_CHAT_IDS", "1,abc")

	_, err := FromEnv()
	require.Error(t, err)
	assert.ErrorContains(t, err, "CANDLE_COUNT")
	assert.ErrorContains(t, err, "TELEGRAM_MARKDOWN")
	assert.ErrorContains(t, err, `ALLOWED_CHAT_IDS="abc"`)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			TelegramMode:   ModePolling,
			Symbol:         "R_75",
			CandleCount:    10,
			FetchTimeout:   time.Second,
			SignalCooldown: time.Second,
			RetryDelay:     time.Second,
			ErrorDelay:     time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid polling", func(c *Config) {}, ""},
		{"valid webhook", func(c *Config) {
			c.TelegramMode = ModeWebhook
			c.WebhookURL = "https://bot.example.com"
		}, ""},
		{"webhook without url", func(c *Config) { c.TelegramMode = ModeWebhook }, "WEBHOOK_URL is required"},
		{"webhook over http", func(c *Config) {
			c.TelegramMode = ModeWebhook
			c.WebhookURL = "http://bot.example.com"
		}, "https URL"},
		{"unknown mode", func(c *Config) { c.TelegramMode = "push" }, "TELEGRAM_MODE"},
		{"too few candles", func(c *Config) { c.CandleCount = 4 }, "CANDLE_COUNT"},
		{"zero delay", func(c *Config) { c.ErrorDelay = 0 }, "ERROR_DELAY"},
		{"empty symbol", func(c *Config) { c.Symbol = "" }, "SYMBOL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

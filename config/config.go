package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Telegram update delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Telegram
	BotToken         string
	AdminChatID      int64 // 0 = operator alerts go to the log only
	AllowedChatIDs   []int64
	TelegramMode     string
	WebhookURL       string
	WebhookSecret    string
	TelegramMarkdown bool
	TelegramAPIURL   string

	// Deriv
	DerivWSURL string
	DerivAppID string
	Symbol     string

	// Analysis loop
	CandleCount          int
	FetchTimeout         time.Duration
	SignalCooldown       time.Duration
	RetryDelay           time.Duration
	ErrorDelay           time.Duration
	SkipMalformedCandles bool

	// Infrastructure
	RedisAddr          string // empty disables signal fan-out
	RedisPassword      string
	RedisSignalChannel string
	HTTPAddr           string
	AlertWebhookURL    string
	LogLevel           string

	// Staging points the candle source at the local simulator.
	StagingMode bool
	SimWSURL    string
}

// Load reads .env (if present) and the environment. Missing or invalid
// settings are fatal.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}
	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// FromEnv builds a Config from the current environment and validates it.
func FromEnv() (*Config, error) {
	var errs []error
	p := parser{errs: &errs}

	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		errs = append(errs, errors.New("required env var BOT_TOKEN not set"))
	}

	cfg := &Config{
		BotToken:         botToken,
		AdminChatID:      p.getInt64("ADMIN_CHAT_ID", 0),
		AllowedChatIDs:   p.chatIDs("ALLOWED_CHAT_IDS"),
		TelegramMode:     strings.ToLower(getEnv("TELEGRAM_MODE", ModePolling)),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		TelegramMarkdown: p.getBool("TELEGRAM_MARKDOWN", false),
		TelegramAPIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),

		DerivWSURL: getEnv("DERIV_WS_URL", "wss://ws.derivws.com/websockets/v3"),
		DerivAppID: getEnv("DERIV_APP_ID", "1089"),
		Symbol:     getEnv("SYMBOL", "R_75"),

		CandleCount:          p.getInt("CANDLE_COUNT", 10),
		FetchTimeout:         p.getDuration("FETCH_TIMEOUT", 10*time.Second),
		SignalCooldown:       p.getDuration("SIGNAL_COOLDOWN", 10*time.Second),
		RetryDelay:           p.getDuration("RETRY_DELAY", 2*time.Second),
		ErrorDelay:           p.getDuration("ERROR_DELAY", 3*time.Second),
		SkipMalformedCandles: p.getBool("SKIP_MALFORMED_CANDLES", false),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisSignalChannel: getEnv("REDIS_SIGNAL_CHANNEL", "signal"),
		HTTPAddr:           httpAddr(),
		AlertWebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),

		StagingMode: p.getBool("STAGING_MODE", false),
		SimWSURL:    getEnv("SIM_WS_URL", "ws://localhost:8765/websockets/v3"),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and ranges.
func (c *Config) Validate() error {
	var errs []error

	switch c.TelegramMode {
	case ModePolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required when TELEGRAM_MODE=webhook"))
		} else if u, err := url.Parse(c.WebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, fmt.Errorf("WEBHOOK_URL must be an https URL, got %q", c.WebhookURL))
		}
	default:
		errs = append(errs, fmt.Errorf("TELEGRAM_MODE must be %q or %q, got %q", ModePolling, ModeWebhook, c.TelegramMode))
	}

	if c.Symbol == "" {
		errs = append(errs, errors.New("SYMBOL must not be empty"))
	}
	if c.CandleCount < 5 {
		errs = append(errs, fmt.Errorf("CANDLE_COUNT must be at least 5, got %d", c.CandleCount))
	}
	for key, d := range map[string]time.Duration{
		"FETCH_TIMEOUT":   c.FetchTimeout,
		"SIGNAL_COOLDOWN": c.SignalCooldown,
		"RETRY_DELAY":     c.RetryDelay,
		"ERROR_DELAY":     c.ErrorDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	return errors.Join(errs...)
}

// CandleURL is the websocket endpoint the candle source dials.
func (c *Config) CandleURL() string {
	if c.StagingMode {
		return c.SimWSURL
	}
	return c.DerivWSURL
}

// WebhookPath is the route Telegram posts updates to.
func (c *Config) WebhookPath() string {
	if c.WebhookSecret == "" {
		return "/webhook"
	}
	return "/webhook/" + c.WebhookSecret
}

// Hosting platforms set PORT; HTTP_ADDR wins when both are present.
func httpAddr() string {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		return v
	}
	if v := os.Getenv("PORT"); v != "" {
		return ":" + v
	}
	return ":8080"
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// parser collects conversion errors so every bad key is reported at once.
type parser struct {
	errs *[]error
}

func (p parser) fail(key, v string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("invalid %s=%q: %w", key, v, err))
}

func (p parser) getInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p parser) getInt64(key string, fallback int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p parser) getBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("1500ms") or bare seconds ("3").
func (p parser) getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

// chatIDs parses a comma-separated list of chat IDs.
func (p parser) chatIDs(key string) []int64 {
	v := getEnv(key, "")
	if v == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			p.fail(key, part, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

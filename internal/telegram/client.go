// Package telegram is the chat command surface: a Bot API client, the
// command dispatcher that starts and stops analysis loops, and the two
// update delivery modes (long polling and webhook).
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIURL is the public Bot API host.
const DefaultAPIURL = "https://api.telegram.org"

// ClientConfig configures the Bot API client.
type ClientConfig struct {
	Token string

	// APIURL overrides the Bot API host (tests, local Bot API server).
	APIURL string

	// MarkdownV2 escapes outgoing text and sends it with parse_mode=MarkdownV2.
	MarkdownV2 bool

	// Timeout for non-polling calls. Defaults to 10s.
	Timeout time.Duration
}

// Client calls the Telegram Bot API over HTTPS.
type Client struct {
	cfg    ClientConfig
	base   string
	client *http.Client
}

// APIError is a non-ok Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int // seconds, set on 429
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// NewClient creates a Bot API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token + "/",
		client: &http.Client{},
	}
}

// call posts payload to method and decodes the result into out (may be nil).
func (c *Client) call(ctx context.Context, method string, timeout time.Duration, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: %s: marshal: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of errors and logs.
		return fmt.Errorf("telegram: %s: %w", method, redact(err, c.cfg.Token))
	}
	defer resp.Body.Close()

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("telegram: %s: decode (status %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var u User
	err := c.call(ctx, "getMe", c.cfg.Timeout, struct{}{}, &u)
	return u, err
}

// GetUpdates long-polls for updates after offset, waiting up to timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	err := c.call(ctx, "getUpdates", timeout+c.cfg.Timeout, payload, &updates)
	return updates, err
}

// SendMessage posts text to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", c.cfg.Timeout, c.messagePayload(chatID, text, nil), nil)
}

// SendMessageWithKeyboard posts text with an inline keyboard attached.
func (c *Client) SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, kb InlineKeyboardMarkup) error {
	return c.call(ctx, "sendMessage", c.cfg.Timeout, c.messagePayload(chatID, text, &kb), nil)
}

// AnswerCallbackQuery acknowledges an inline button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	payload := map[string]any{"callback_query_id": id}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", c.cfg.Timeout, payload, nil)
}

// SetWebhook registers url for update delivery. secret is echoed back by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", c.cfg.Timeout, payload, nil)
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", c.cfg.Timeout, struct{}{}, nil)
}

func (c *Client) messagePayload(chatID int64, text string, kb *InlineKeyboardMarkup) map[string]any {
	payload := map[string]any{"chat_id": chatID}
	if c.cfg.MarkdownV2 {
		payload["text"] = EscapeMarkdown(text)
		payload["parse_mode"] = "MarkdownV2"
	} else {
		payload["text"] = text
	}
	if kb != nil {
		payload["reply_markup"] = kb
	}
	return payload
}

// EscapeMarkdown escapes special characters for Telegram MarkdownV2.
func EscapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	var buf strings.Builder
	buf.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			buf.WriteByte('\\')
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SecretHeader carries the webhook secret set with SetWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateSource is the polling half of the Bot API. *Client satisfies it.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	DeleteWebhook(ctx context.Context) error
}

// PollerConfig configures long polling.
type PollerConfig struct {
	// PollTimeout is the server-side long-poll wait. Defaults to 30s.
	PollTimeout time.Duration

	// RetryDelay is the initial pause after a failed poll. Defaults to 1s.
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff. Defaults to 30s.
	MaxRetryDelay time.Duration
}

func (c *PollerConfig) defaults() {
	if c.PollTimeout == 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
}

// Poller feeds getUpdates results to a Bot.
type Poller struct {
	cfg    PollerConfig
	source UpdateSource
	bot    *Bot

	// Optional hook, called after each failed poll.
	OnError func(err error)
}

// NewPoller creates a Poller.
func NewPoller(cfg PollerConfig, source UpdateSource, bot *Bot) *Poller {
	cfg.defaults()
	return &Poller{cfg: cfg, source: source, bot: bot}
}

// Run polls until ctx is cancelled. Updates are handled in order.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.source.DeleteWebhook(ctx); err != nil {
		log.Printf("[poller] deleteWebhook failed: %v (continuing)", err)
	}
	log.Println("[poller] long polling started")

	var offset int64
	delay := p.cfg.RetryDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if p.OnError != nil {
				p.OnError(err)
			}

			wait := delay
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = time.Duration(apiErr.RetryAfter) * time.Second
			}
			log.Printf("[poller] getUpdates failed (%v), retrying in %s", err, wait)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			delay *= 2
			if delay > p.cfg.MaxRetryDelay {
				delay = p.cfg.MaxRetryDelay
			}
			continue
		}
		delay = p.cfg.RetryDelay

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			p.bot.HandleUpdate(ctx, u)
		}
	}
}

// WebhookHandler accepts updates pushed by Telegram. When secret is set,
// requests without the matching SecretHeader are rejected.
func (b *Bot) WebhookHandler(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			got := c.GetHeader(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
		}

		var u Update
		if err := c.ShouldBindJSON(&u); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
			return
		}

		b.HandleUpdate(c.Request.Context(), u)
		c.Status(http.StatusOK)
	}
}

// Package redis fans confirmed signals out to other consumers over Redis
// Pub/Sub. Nothing is stored: a message missed by a subscriber is gone.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"deriv-signalbot/internal/strategy"
)

// DefaultChannel is the channel prefix; the symbol is appended.
const DefaultChannel = "signal"

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Channel  string // channel prefix, defaults to DefaultChannel
}

// Publisher publishes TradeSignals as JSON on "{channel}:{symbol}".
type Publisher struct {
	client  *goredis.Client
	channel string
}

// New creates a Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg.Channel), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// ChannelFor returns the Pub/Sub channel used for symbol.
func (p *Publisher) ChannelFor(symbol string) string {
	return p.channel + ":" + symbol
}

// Publish sends sig to its symbol channel and returns the receiver count.
func (p *Publisher) Publish(ctx context.Context, sig strategy.TradeSignal) (int64, error) {
	n, err := p.client.Publish(ctx, p.ChannelFor(sig.Symbol), sig.JSON()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish: %w", err)
	}
	return n, nil
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

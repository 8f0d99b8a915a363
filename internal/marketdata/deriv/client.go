// Package deriv fetches OHLC candles from a Deriv-compatible websocket API
// using the ticks_history request with style "candles".
//
// Each fetch opens its own connection, sends one request and reads until the
// matching response arrives or the fetch timeout expires.
package deriv

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"deriv-signalbot/internal/circuitbreaker"
	"deriv-signalbot/internal/model"
)

// DefaultURL is the public Deriv websocket endpoint.
const DefaultURL = "wss://ws.derivws.com/websockets/v3"

// Config holds configuration for the candle client.
type Config struct {
	// URL of the websocket endpoint. Defaults to DefaultURL.
	URL string

	// AppID is appended as the app_id query parameter when set.
	AppID string

	// Timeout bounds one dial + request + response. Defaults to 10s.
	Timeout time.Duration

	// Breaker guards dials. Optional.
	Breaker *circuitbreaker.CircuitBreaker
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Client fetches candles. It is safe for concurrent use.
type Client struct {
	cfg      Config
	endpoint string
	dialer   *websocket.Dialer
	reqID    atomic.Int64

	// Optional hook, called after every fetch attempt.
	OnFetch func(granularity int, took time.Duration, err error)
}

// request is the ticks_history payload.
type request struct {
	TicksHistory    string `json:"ticks_history"`
	AdjustStartTime int    `json:"adjust_start_time"`
	Count           int    `json:"count"`
	End             string `json:"end"`
	Style           string `json:"style"`
	Granularity     int    `json:"granularity"`
	ReqID           int64  `json:"req_id"`
}

// New creates a Client. Returns an error if the URL is unparseable.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("deriv: parse url: %w", err)
	}
	if cfg.AppID != "" {
		q := u.Query()
		q.Set("app_id", cfg.AppID)
		u.RawQuery = q.Encode()
	}

	return &Client{
		cfg:      cfg,
		endpoint: u.String(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
		},
	}, nil
}

// Candles returns up to count candles of the given granularity (seconds),
// oldest first.
//
// A fetch abandoned because ctx was cancelled is not a fault of the upstream:
// the breaker sees it as a success and OnFetch is not called.
func (c *Client) Candles(ctx context.Context, symbol string, granularity, count int) ([]model.Candle, error) {
	start := time.Now()
	var candles []model.Candle
	var cancelled error

	fetch := func() error {
		var err error
		candles, err = c.fetch(ctx, symbol, granularity, count)
		if err != nil && ctx.Err() != nil {
			cancelled = err
			return nil
		}
		return err
	}

	var err error
	if c.cfg.Breaker != nil {
		err = c.cfg.Breaker.Execute(fetch)
	} else {
		err = fetch()
	}
	if cancelled != nil {
		return nil, cancelled
	}

	if c.OnFetch != nil {
		c.OnFetch(granularity, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return candles, nil
}

func (c *Client) fetch(ctx context.Context, symbol string, granularity, count int) ([]model.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("deriv: dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads if the caller gives up before the deadline.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	req := request{
		TicksHistory:    symbol,
		AdjustStartTime: 1,
		Count:           count,
		End:             "latest",
		Style:           "candles",
		Granularity:     granularity,
		ReqID:           c.reqID.Add(1),
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("deriv: write request: %w", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("deriv: read: %w", ctx.Err())
			}
			return nil, fmt.Errorf("deriv: read: %w", err)
		}
		if !matchesRequest(raw, req.ReqID) {
			log.Printf("[deriv] skipping unrelated message (%d bytes)", len(raw))
			continue
		}
		return parseCandles(raw)
	}
}

// matchesRequest reports whether raw answers reqID. Responses without a
// req_id are accepted since the connection carries a single request.
func matchesRequest(raw []byte, reqID int64) bool {
	r := gjson.GetBytes(raw, "req_id")
	if !r.Exists() {
		return true
	}
	return r.Int() == reqID
}

// Package analysis runs the signal funnel on a fixed cadence for one chat.
//
// A Loop is Idle until Start, then repeatedly fetches the 15m/5m/1m candle
// batches, evaluates the funnel, publishes a status string and, when a
// signal is confirmed, sends the formatted message to the chat sink.
// Fetch, compute and delivery errors are absorbed; only Stop (or the parent
// context ending) exits the loop.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"deriv-signalbot/internal/circuitbreaker"
	"deriv-signalbot/internal/logger"
	"deriv-signalbot/internal/marketdata/deriv"
	"deriv-signalbot/internal/model"
	"deriv-signalbot/internal/notification"
	"deriv-signalbot/internal/strategy"
)

// Candle granularities in seconds.
const (
	Granularity15m = 900
	Granularity5m  = 300
	Granularity1m  = 60
)

var (
	ErrAlreadyRunning = errors.New("analysis already running")
	ErrNotRunning     = errors.New("analysis not running")
)

// CandleSource returns up to count candles, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, granularity, count int) ([]model.Candle, error)
}

// Sink delivers a message to the chat that started the loop.
type Sink func(ctx context.Context, text string) error

// Config holds loop cadence and input settings.
type Config struct {
	Symbol string
	Count  int // candles per batch

	SignalCooldown time.Duration // pause after a signal
	RetryDelay     time.Duration // pause after a no-signal cycle
	ErrorDelay     time.Duration // pause after a fetch or compute error

	// SkipMalformed drops candles with unparseable fields before evaluation.
	SkipMalformed bool
}

func (c *Config) defaults() {
	if c.Count == 0 {
		c.Count = 10
	}
	if c.SignalCooldown == 0 {
		c.SignalCooldown = 10 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.ErrorDelay == 0 {
		c.ErrorDelay = 3 * time.Second
	}
}

// Loop is one cancellable analysis task and its published state.
type Loop struct {
	cfg    Config
	source CandleSource
	alerts notification.Notifier
	state  *State

	mu     sync.Mutex // guards Start/Stop transitions
	cancel context.CancelFunc
	done   chan struct{}

	fetchFailures int // consecutive, loop goroutine only

	// Optional hooks, called from the loop goroutine.
	OnCycle      func(outcome strategy.Outcome)
	OnSignal     func(ctx context.Context, sig strategy.TradeSignal)
	OnFetchError func(err error)
}

// New creates an idle Loop. alerts may be nil.
func New(cfg Config, source CandleSource, alerts notification.Notifier) *Loop {
	cfg.defaults()
	return &Loop{
		cfg:    cfg,
		source: source,
		alerts: alerts,
		state:  NewState(),
	}
}

// Start launches the loop goroutine, delivering signals to sink.
// Returns ErrAlreadyRunning, leaving the state untouched, if a loop is active.
func (l *Loop) Start(parent context.Context, sink Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Running() {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.fetchFailures = 0
	l.state.set(true, StatusStarted)

	go l.run(ctx, sink, l.done)
	return nil
}

// Stop cancels the loop and waits for its goroutine to exit.
// Returns ErrNotRunning if the loop is idle.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.Running() {
		return ErrNotRunning
	}
	l.cancel()
	<-l.done
	return nil
}

// CurrentStatus returns the last published status text.
func (l *Loop) CurrentStatus() string {
	return l.state.Status()
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	return l.state.Running()
}

// State exposes the loop state for read-only inspection.
func (l *Loop) State() *State {
	return l.state
}

func (l *Loop) run(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)
	defer l.state.set(false, StatusStopped)

	log.Printf("[analysis] loop started symbol=%s", l.cfg.Symbol)
	defer log.Printf("[analysis] loop stopped symbol=%s", l.cfg.Symbol)

	for {
		if ctx.Err() != nil {
			return
		}
		wait := l.cycle(ctx, sink)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// cycle runs one fetch + evaluate pass and returns the pause before the next.
func (l *Loop) cycle(ctx context.Context, sink Sink) (wait time.Duration) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(l.cfg.Symbol, time.Now()))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis cycle panicked", append(logger.LogWithTrace(ctx), slog.Any("panic", r))...)
			l.state.setStatus(StatusInternal)
			l.alert(ctx, notification.AlertCritical, "Analysis internal error", fmt.Sprint(r))
			wait = l.cfg.ErrorDelay
		}
	}()

	l.state.setStatus(StatusFetching)
	series, err := l.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		l.onFetchError(ctx, err)
		return l.cfg.ErrorDelay
	}
	if l.fetchFailures > 0 {
		log.Printf("[analysis] candle source recovered after %d failures", l.fetchFailures)
		l.fetchFailures = 0
	}

	l.state.setStatus(StatusChecking)
	res := strategy.Evaluate(series)
	l.state.setStatus(res.Status())
	slog.Debug("funnel evaluated", append(logger.LogWithTrace(ctx),
		slog.String("outcome", res.Outcome.String()),
		slog.String("trend", string(res.Trend.Trend)))...)

	if l.OnCycle != nil {
		l.OnCycle(res.Outcome)
	}
	if res.Outcome != strategy.OutcomeSignal {
		return l.cfg.RetryDelay
	}

	sig := *res.Signal
	sig.Symbol = l.cfg.Symbol
	sig.At = time.Now().UTC()

	slog.Info("signal confirmed", append(logger.LogWithTrace(ctx),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("entry", sig.Entry),
		slog.Float64("stop_loss", sig.StopLoss),
		slog.Float64("take_profit", sig.TakeProfit))...)

	if err := sink(ctx, FormatSignal(sig)); err != nil {
		log.Printf("[analysis] signal delivery failed: %v", err)
	}
	if l.OnSignal != nil {
		l.OnSignal(ctx, sig)
	}
	return l.cfg.SignalCooldown
}

func (l *Loop) fetch(ctx context.Context) (strategy.Series, error) {
	var s strategy.Series
	for _, b := range []struct {
		granularity int
		dst         *[]model.Candle
	}{
		{Granularity15m, &s.M15},
		{Granularity5m, &s.M5},
		{Granularity1m, &s.M1},
	} {
		candles, err := l.source.Candles(ctx, l.cfg.Symbol, b.granularity, l.cfg.Count)
		if err != nil {
			return s, fmt.Errorf("fetch %ds candles: %w", b.granularity, err)
		}
		if l.cfg.SkipMalformed {
			candles = model.DropMalformed(candles)
		}
		*b.dst = candles
	}
	return s, nil
}

func (l *Loop) onFetchError(ctx context.Context, err error) {
	l.fetchFailures++
	l.state.setStatus("❌ " + describeFetchError(err))
	slog.Warn("candle fetch failed", append(logger.LogWithTrace(ctx),
		slog.String("error", err.Error()),
		slog.Int("consecutive", l.fetchFailures))...)

	if l.OnFetchError != nil {
		l.OnFetchError(err)
	}
	// One alert per failure streak.
	if l.fetchFailures == 1 {
		l.alert(ctx, notification.AlertWarning, "Candle fetch failed", fmt.Sprintf("%s: %v", l.cfg.Symbol, err))
	}
}

func (l *Loop) alert(ctx context.Context, level notification.AlertLevel, title, msg string) {
	if l.alerts == nil {
		return
	}
	if err := l.alerts.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		log.Printf("[analysis] operator alert failed: %v", err)
	}
}

// describeFetchError gives a chat-safe summary of a fetch failure.
func describeFetchError(err error) string {
	var apiErr *deriv.APIError
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "Market data paused after repeated failures, retrying"
	case errors.As(err, &apiErr):
		return "Market data error: " + apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "Market data timed out, retrying"
	default:
		return "Error fetching market data, retrying"
	}
}

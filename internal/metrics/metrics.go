package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the signal bot.
type Metrics struct {
	// Analysis loop
	CyclesTotal  *prometheus.CounterVec // labels: outcome
	SignalsTotal *prometheus.CounterVec // labels: direction
	ActiveLoops  prometheus.Gauge

	// Candle source
	FetchDur         *prometheus.HistogramVec // labels: granularity
	FetchErrorsTotal *prometheus.CounterVec   // labels: granularity

	// Circuit breaker on the candle source
	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter

	// Chat surface
	CommandsTotal      *prometheus.CounterVec // labels: command
	TelegramSendErrors prometheus.Counter
	PollErrorsTotal    prometheus.Counter

	// Fan-out
	RedisPublishTotal *prometheus.CounterVec // labels: result=ok|error
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_cycles_total",
			Help: "Analysis cycles completed (by funnel outcome)",
		}, []string{"outcome"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_signals_total",
			Help: "Trade signals confirmed (by direction)",
		}, []string{"direction"}),
		ActiveLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_active_loops",
			Help: "Analysis loops currently running",
		}),

		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalbot_candle_fetch_duration_seconds",
			Help:    "Deriv ticks_history round-trip latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"granularity"}),
		FetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_candle_fetch_errors_total",
			Help: "Failed candle fetches (by granularity)",
		}, []string{"granularity"}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_deriv_circuit_breaker_state",
			Help: "Deriv circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_deriv_circuit_breaker_trips_total",
			Help: "Times the Deriv circuit breaker tripped open",
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_commands_total",
			Help: "Chat commands handled (by command)",
		}, []string{"command"}),
		TelegramSendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_telegram_send_errors_total",
			Help: "Failed Bot API send calls",
		}),
		PollErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_telegram_poll_errors_total",
			Help: "Failed getUpdates calls",
		}),

		RedisPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_redis_publish_total",
			Help: "Signals published to Redis (by result)",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.SignalsTotal,
		m.ActiveLoops,
		m.FetchDur,
		m.FetchErrorsTotal,
		m.BreakerState,
		m.BreakerTrips,
		m.CommandsTotal,
		m.TelegramSendErrors,
		m.PollErrorsTotal,
		m.RedisPublishTotal,
	)

	return m
}

package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	DerivOK        bool
	LastFetchTime  time.Time
	LastFetchError string

	TelegramOK bool

	RedisEnabled   bool
	RedisConnected bool
	RedisLatencyMs float64

	LastCheckAt time.Time
	StartedAt   time.Time

	activeLoops func() int
}

// NewHealthStatus returns a default health status. Telegram is assumed
// reachable until SetTelegramOK says otherwise.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		TelegramOK: true,
		StartedAt:  time.Now(),
	}
}

// RecordFetch records the outcome of a candle fetch.
func (h *HealthStatus) RecordFetch(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.DerivOK = err == nil
	if err != nil {
		h.LastFetchError = err.Error()
		return
	}
	h.LastFetchTime = time.Now()
	h.LastFetchError = ""
}

func (h *HealthStatus) SetTelegramOK(v bool) {
	h.mu.Lock()
	h.TelegramOK = v
	h.mu.Unlock()
}

// SetActiveLoops installs the function reporting running analysis loops.
func (h *HealthStatus) SetActiveLoops(fn func() int) {
	h.mu.Lock()
	h.activeLoops = fn
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker pings Redis every interval until ctx ends. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	if rdb == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	h.CheckRedis(probeCtx, rdb)
	cancel()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, rdb)
				cancel()
			}
		}
	}()
}

type healthResponse struct {
	Status         string  `json:"status"`
	Uptime         string  `json:"uptime"`
	ActiveLoops    int     `json:"active_loops"`
	DerivOK        bool    `json:"deriv_ok"`
	LastFetchTime  string  `json:"last_fetch_time,omitempty"`
	FetchAge       string  `json:"fetch_age,omitempty"`
	LastFetchError string  `json:"last_fetch_error,omitempty"`
	TelegramOK     bool    `json:"telegram_ok"`
	RedisEnabled   bool    `json:"redis_enabled"`
	RedisConnected bool    `json:"redis_connected"`
	RedisLatencyMs float64 `json:"redis_latency_ms"`
	LastCheckAt    string  `json:"last_check_at,omitempty"`
}

// snapshot builds the response body and its HTTP status code.
func (h *HealthStatus) snapshot() (healthResponse, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := 0
	if h.activeLoops != nil {
		active = h.activeLoops()
	}

	resp := healthResponse{
		Status:         "healthy",
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		ActiveLoops:    active,
		DerivOK:        h.DerivOK,
		LastFetchError: h.LastFetchError,
		TelegramOK:     h.TelegramOK,
		RedisEnabled:   h.RedisEnabled,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
	}
	if !h.LastFetchTime.IsZero() {
		resp.LastFetchTime = h.LastFetchTime.Format(time.RFC3339)
		resp.FetchAge = time.Since(h.LastFetchTime).Round(time.Millisecond).String()
	}
	if !h.LastCheckAt.IsZero() {
		resp.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	code := http.StatusOK
	redisDown := h.RedisEnabled && !h.RedisConnected
	// Deriv health only matters while something is polling it.
	derivDown := active > 0 && !h.DerivOK
	if !h.TelegramOK || derivDown || redisDown {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.TelegramOK && derivDown {
		resp.Status = "unhealthy"
	}
	return resp, code
}

// Handler serves the /healthz endpoint.
func (h *HealthStatus) Handler(c *gin.Context) {
	resp, code := h.snapshot()
	c.JSON(code, resp)
}

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	RequestIDHeaderKey  = "X-Request-ID"
	RequestIDContextKey = "request_id"
)

// Server is the bot's HTTP surface: liveness ping, /healthz, /metrics and
// any routes added with Handle (the Telegram webhook).
type Server struct {
	health *HealthStatus
	addr   string
	router *gin.Engine
	srv    *http.Server
}

// NewServer creates the HTTP server. gatherer backs /metrics.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestIDMiddleware(), ginLoggerMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Bot is running!")
	})
	router.HEAD("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/healthz", health.Handler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Server{
		health: health,
		addr:   addr,
		router: router,
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handle registers an extra route. Call before Start.
func (s *Server) Handle(method, path string, h gin.HandlerFunc) {
	s.router.Handle(method, path, h)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[http] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[http] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Set(RequestIDContextKey, requestID)
		c.Next()
	}
}

func ginLoggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		// Health probes and scrapes would drown everything else.
		SkipPaths: []string{"/", "/healthz", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[http] %s %q %s %d %s id=%s\n",
				param.ClientIP,
				param.Method,
				param.Path,
				param.StatusCode,
				param.Latency,
				param.Keys[RequestIDContextKey],
			)
		},
	})
}

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"deriv-signalbot/config"
	"deriv-signalbot/internal/analysis"
	"deriv-signalbot/internal/circuitbreaker"
	"deriv-signalbot/internal/logger"
	"deriv-signalbot/internal/marketdata/deriv"
	"deriv-signalbot/internal/metrics"
	"deriv-signalbot/internal/notification"
	redisstore "deriv-signalbot/internal/store/redis"
	"deriv-signalbot/internal/strategy"
	"deriv-signalbot/internal/telegram"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[signalbot] starting...")

	cfg := config.Load()
	logger.Init("signalbot", logger.ParseLevel(cfg.LogLevel))

	if cfg.StagingMode {
		log.Printf("[signalbot] *** STAGING MODE: candles from %s ***", cfg.SimWSURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	httpSrv := metrics.NewServer(cfg.HTTPAddr, health, prometheus.DefaultGatherer)

	// ---- Telegram client ----
	tg := telegram.NewClient(telegram.ClientConfig{
		Token:      cfg.BotToken,
		APIURL:     cfg.TelegramAPIURL,
		MarkdownV2: cfg.TelegramMarkdown,
	})
	me, err := tg.GetMe(ctx)
	if err != nil {
		// Keep going; the health check reports it and polling retries.
		log.Printf("[signalbot] WARNING: getMe failed: %v", err)
		health.SetTelegramOK(false)
	} else {
		log.Printf("[signalbot] authorized as @%s", me.Username)
	}

	// ---- Operator alerts ----
	alerts := notification.Multi{notification.NewLogNotifier()}
	if cfg.AdminChatID != 0 {
		alerts = append(alerts, notification.NewTelegramNotifier(tg, cfg.AdminChatID))
	} else {
		log.Println("[signalbot] ADMIN_CHAT_ID not set, operator alerts go to the log only")
	}
	if cfg.AlertWebhookURL != "" {
		alerts = append(alerts, notification.NewWebhookNotifier(cfg.AlertWebhookURL, "signalbot"))
	}

	// ---- Redis signal fan-out (optional) ----
	var publisher *redisstore.BufferedPublisher
	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Channel:  cfg.RedisSignalChannel,
		})
		if err != nil {
			log.Printf("[signalbot] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			redisBreaker := circuitbreaker.New(3, 30*time.Second)
			redisBreaker.OnStateChange = func(from, to circuitbreaker.State) {
				log.Printf("[signalbot] redis circuit breaker %s -> %s", from, to)
			}
			publisher = redisstore.NewBufferedPublisher(ctx, pub, redisBreaker, 1000)
			publisher.OnBuffer = func() {
				prom.RedisPublishTotal.WithLabelValues("buffered").Inc()
			}
			publisher.RetryEvery(5 * time.Second)
			log.Printf("[signalbot] publishing signals to redis channel %s", pub.ChannelFor(cfg.Symbol))
			health.StartLivenessChecker(ctx, pub.Client(), 15*time.Second)
		}
	}

	// ---- Candle source ----
	breaker := circuitbreaker.New(5, 30*time.Second)
	breaker.OnStateChange = func(from, to circuitbreaker.State) {
		log.Printf("[signalbot] deriv circuit breaker %s -> %s", from, to)
		prom.BreakerState.Set(float64(to))
		if to == circuitbreaker.StateOpen {
			prom.BreakerTrips.Inc()
		}
	}
	source, err := deriv.New(deriv.Config{
		URL:     cfg.CandleURL(),
		AppID:   cfg.DerivAppID,
		Timeout: cfg.FetchTimeout,
		Breaker: breaker,
	})
	if err != nil {
		log.Fatalf("[signalbot] candle source: %v", err)
	}
	source.OnFetch = func(granularity int, took time.Duration, err error) {
		g := strconv.Itoa(granularity)
		prom.FetchDur.WithLabelValues(g).Observe(took.Seconds())
		if err != nil {
			prom.FetchErrorsTotal.WithLabelValues(g).Inc()
		}
		health.RecordFetch(err)
	}

	// ---- Analysis loops, one per chat ----
	loopCfg := analysis.Config{
		Symbol:         cfg.Symbol,
		Count:          cfg.CandleCount,
		SignalCooldown: cfg.SignalCooldown,
		RetryDelay:     cfg.RetryDelay,
		ErrorDelay:     cfg.ErrorDelay,
		SkipMalformed:  cfg.SkipMalformedCandles,
	}
	registry := analysis.NewRegistry(func(chatID int64) *analysis.Loop {
		l := analysis.New(loopCfg, source, alerts)
		l.OnCycle = func(outcome strategy.Outcome) {
			prom.CyclesTotal.WithLabelValues(outcome.String()).Inc()
		}
		l.OnSignal = func(ctx context.Context, sig strategy.TradeSignal) {
			prom.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
			if publisher == nil {
				return
			}
			if err := publisher.Publish(ctx, sig); err != nil {
				prom.RedisPublishTotal.WithLabelValues("error").Inc()
				slog.Warn("signal publish failed", append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
				return
			}
			prom.RedisPublishTotal.WithLabelValues("ok").Inc()
		}
		log.Printf("[signalbot] created analysis loop for chat %d", chatID)
		return l
	})
	health.SetActiveLoops(registry.Active)

	// ---- Command surface ----
	bot := telegram.NewBot(ctx, telegram.BotConfig{
		Symbol:       cfg.Symbol,
		AllowedChats: cfg.AllowedChatIDs,
	}, tg, func(chatID int64) telegram.Analyzer {
		return registry.Get(chatID)
	})
	bot.OnCommand = func(command string) {
		prom.CommandsTotal.WithLabelValues(command).Inc()
	}
	bot.OnSendError = func(err error) {
		prom.TelegramSendErrors.Inc()
		health.SetTelegramOK(false)
	}

	switch cfg.TelegramMode {
	case config.ModeWebhook:
		path := cfg.WebhookPath()
		httpSrv.Handle(http.MethodPost, path, bot.WebhookHandler(cfg.WebhookSecret))
		httpSrv.Start()

		hookURL := strings.TrimRight(cfg.WebhookURL, "/") + path
		if err := tg.SetWebhook(ctx, hookURL, cfg.WebhookSecret); err != nil {
			log.Fatalf("[signalbot] setWebhook failed: %v", err)
		}
		log.Printf("[signalbot] webhook mode, updates on %s", path)

	default:
		httpSrv.Start()
		poller := telegram.NewPoller(telegram.PollerConfig{}, tg, bot)
		poller.OnError = func(err error) {
			prom.PollErrorsTotal.Inc()
			health.SetTelegramOK(false)
		}
		go poller.Run(ctx)
	}

	// ---- Periodic gauges and Telegram liveness ----
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.ActiveLoops.Set(float64(registry.Active()))
				probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
				_, err := tg.GetMe(probeCtx)
				probeCancel()
				health.SetTelegramOK(err == nil)
			}
		}
	}()

	sendAlert(ctx, alerts, notification.AlertInfo, "Signal bot started",
		"Watching "+cfg.Symbol+" ("+cfg.TelegramMode+" mode)")
	log.Printf("[signalbot] ready: symbol=%s mode=%s http=%s", cfg.Symbol, cfg.TelegramMode, cfg.HTTPAddr)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[signalbot] shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	sendAlert(shutdownCtx, alerts, notification.AlertInfo, "Signal bot stopping",
		strconv.Itoa(registry.Active())+" analysis loop(s) will be stopped")

	// Stop update intake first; a late /analyze starts under the cancelled
	// context and exits before its first cycle.
	cancel()
	if err := httpSrv.Stop(shutdownCtx); err != nil {
		log.Printf("[signalbot] http shutdown: %v", err)
	}
	registry.StopAll()
	if publisher != nil {
		if n := publisher.PendingCount(); n > 0 {
			log.Printf("[signalbot] dropping %d signals still buffered for redis", n)
		}
		publisher.Underlying().Close()
	}

	log.Println("[signalbot] shutdown complete.")
}

func sendAlert(ctx context.Context, n notification.Notifier, level notification.AlertLevel, title, msg string) {
	if err := n.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		log.Printf("[signalbot] operator alert failed: %v", err)
	}
}

// cmd/derivsim: local Deriv-compatible candle server for STAGING_MODE.
//
// Answers ticks_history requests with style "candles" on /websockets/v3.
//
// Config (env vars):
//
//	SIM_ADDR        listen address (default ":8765")
//	SIM_SCENARIO    random | buy | sell (default "random")
//	SIM_FAULT_RATE  fraction of requests answered with an API error (default "0")
//	SIM_START_PRICE starting price (default "1000")
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"deriv-signalbot/internal/marketdata/derivsim"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[derivsim] starting candle simulator...")

	addr := envOrDefault("SIM_ADDR", ":8765")
	cfg := derivsim.Config{
		Scenario:   derivsim.Scenario(strings.ToLower(envOrDefault("SIM_SCENARIO", "random"))),
		FaultRate:  envFloatOrDefault("SIM_FAULT_RATE", 0),
		StartPrice: envFloatOrDefault("SIM_START_PRICE", 1000),
	}
	switch cfg.Scenario {
	case derivsim.ScenarioRandom, derivsim.ScenarioBuy, derivsim.ScenarioSell:
	default:
		log.Fatalf("[derivsim] unknown SIM_SCENARIO %q", cfg.Scenario)
	}
	log.Printf("[derivsim] scenario=%s fault_rate=%.2f start_price=%.2f", cfg.Scenario, cfg.FaultRate, cfg.StartPrice)

	mux := http.NewServeMux()
	mux.Handle("/websockets/v3", derivsim.New(cfg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"derivsim"}`)
	})

	log.Printf("[derivsim] listening on %s (WebSocket: ws://localhost%s/websockets/v3)", addr, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("[derivsim] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("[derivsim] ignoring invalid %s=%q", key, v)
	}
	return def
}

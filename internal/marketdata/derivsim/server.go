// Package derivsim is a local stand-in for the Deriv websocket API. It
// answers ticks_history candle requests with synthetic data so the bot can
// run in staging without reaching the real endpoint.
//
// Scenarios:
//
//	random  random-walk candles (default)
//	buy     every response completes a BUY setup
//	sell    every response completes a SELL setup
//
// A non-zero FaultRate answers that fraction of requests with an API error.
package derivsim

import (
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Scenario selects how candles are generated.
type Scenario string

const (
	ScenarioRandom Scenario = "random"
	ScenarioBuy    Scenario = "buy"
	ScenarioSell   Scenario = "sell"
)

// Config holds simulator settings.
type Config struct {
	Scenario   Scenario
	FaultRate  float64 // 0..1
	StartPrice float64 // defaults to 1000
	Seed       int64   // 0 = time-based
}

func (c *Config) defaults() {
	if c.Scenario == "" {
		c.Scenario = ScenarioRandom
	}
	if c.StartPrice == 0 {
		c.StartPrice = 1000
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Candle is the wire shape of one candle.
type Candle struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	EchoReq map[string]any `json:"echo_req"`
	MsgType string         `json:"msg_type"`
	Candles []Candle       `json:"candles,omitempty"`
	Error   *apiError      `json:"error,omitempty"`
	ReqID   int64          `json:"req_id,omitempty"`
}

// Server serves the simulated websocket API.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu   sync.Mutex
	rng  *rand.Rand
	spot map[string]float64 // last close per symbol

	now func() time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.defaults()
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		spot: make(map[string]float64),
		now:  time.Now,
	}
}

// ServeHTTP upgrades the connection and answers requests until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[derivsim] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.Respond(raw)); err != nil {
			return
		}
	}
}

// Respond builds the reply to one raw request.
func (s *Server) Respond(raw []byte) any {
	if !gjson.ValidBytes(raw) {
		return response{MsgType: "error", Error: &apiError{Code: "InputValidationFailed", Message: "Malformed JSON"}}
	}
	req := gjson.ParseBytes(raw)
	resp := response{
		MsgType: "candles",
		ReqID:   req.Get("req_id").Int(),
	}
	if echo, ok := req.Value().(map[string]any); ok {
		resp.EchoReq = echo
	}

	symbol := req.Get("ticks_history").String()
	granularity := int(req.Get("granularity").Int())
	count := int(req.Get("count").Int())

	switch {
	case symbol == "":
		resp.MsgType = "error"
		resp.Error = &apiError{Code: "UnrecognisedRequest", Message: "Unrecognised request"}
		return resp
	case req.Get("style").String() != "candles":
		resp.MsgType = "history"
		resp.Error = &apiError{Code: "InputValidationFailed", Message: "Only candle style is simulated"}
		return resp
	case granularity <= 0 || count <= 0:
		resp.Error = &apiError{Code: "InputValidationFailed", Message: "Input validation failed: granularity, count"}
		return resp
	}

	if s.fault() {
		resp.Error = &apiError{Code: "RateLimit", Message: "You have reached the rate limit for ticks_history."}
		return resp
	}

	resp.Candles = s.Candles(symbol, granularity, count)
	return resp
}

func (s *Server) fault() bool {
	if s.cfg.FaultRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.cfg.FaultRate
}

// Candles returns count candles of the given granularity ending at the
// current bucket, oldest first.
func (s *Server) Candles(symbol string, granularity, count int) []Candle {
	g := int64(granularity)
	last := s.now().Unix() / g * g

	var out []Candle
	switch s.cfg.Scenario {
	case ScenarioBuy, ScenarioSell:
		out = s.setup(granularity, count)
	default:
		out = s.walk(symbol, count)
	}
	for i := range out {
		out[i].Epoch = last - int64(count-1-i)*g
	}
	return out
}

// walk continues the symbol's random walk by count candles.
func (s *Server) walk(symbol string, count int) []Candle {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.spot[symbol]
	if !ok {
		price = s.cfg.StartPrice
	}

	out := make([]Candle, count)
	for i := range out {
		open := price
		cl := open * (1 + (s.rng.Float64()*2-1)*0.002)
		high := math.Max(open, cl) * (1 + s.rng.Float64()*0.001)
		low := math.Min(open, cl) * (1 - s.rng.Float64()*0.001)
		out[i] = Candle{Open: round(open), High: round(high), Low: round(low), Close: round(cl)}
		price = cl
	}
	s.spot[symbol] = price
	return out
}

// setup builds candles that pass the whole funnel for the configured
// direction. Shapes are in units above a flat base.
func (s *Server) setup(granularity, count int) []Candle {
	type shape struct{ o, h, l, c float64 }
	flat := shape{5, 5, 5, 5}

	shapes := make([]shape, count)
	for i := range shapes {
		shapes[i] = flat
	}
	switch granularity {
	case 900:
		// Rising lows and highs.
		for i := range shapes {
			low := float64(i)
			shapes[i] = shape{low + 1, low + 3, low, low + 2}
		}
	case 300:
		// Last close breaks the prior high.
		if count >= 2 {
			shapes[count-2] = shape{8, 10, 7, 9}
			shapes[count-1] = shape{9, 12, 8.5, 11}
		}
	default:
		// Order block then a wick back through its low.
		if count >= 2 {
			shapes[count-2] = shape{10, 12, 9, 11}
			shapes[count-1] = shape{11, 11.5, 8, 10}
		}
	}

	base, unit := s.cfg.StartPrice, s.cfg.StartPrice/1000
	out := make([]Candle, count)
	for i, sh := range shapes {
		if s.cfg.Scenario == ScenarioSell {
			// Reflect below the base; highs and lows swap.
			out[i] = Candle{
				Open:  round(base - sh.o*unit),
				High:  round(base - sh.l*unit),
				Low:   round(base - sh.h*unit),
				Close: round(base - sh.c*unit),
			}
			continue
		}
		out[i] = Candle{
			Open:  round(base + sh.o*unit),
			High:  round(base + sh.h*unit),
			Low:   round(base + sh.l*unit),
			Close: round(base + sh.c*unit),
		}
	}
	return out
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Package strategy implements the three-stage signal funnel.
//
// The funnel reads a 15m, 5m and 1m candle series and either emits a
// TradeSignal (trend + break of structure + order block wick confirmation)
// or reports the stage at which it stopped.
package strategy

import (
	"encoding/json"
	"time"
)

// Direction is the side of a trade signal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Trend is the directional bias read from the 15m series.
type Trend string

const (
	TrendBuy     Trend = "BUY"
	TrendSell    Trend = "SELL"
	TrendUnclear Trend = "UNCLEAR"
)

// Direction maps a clear trend to its trade side. ok is false for TrendUnclear.
func (t Trend) Direction() (Direction, bool) {
	switch t {
	case TrendBuy:
		return Buy, true
	case TrendSell:
		return Sell, true
	default:
		return "", false
	}
}

// RewardRisk is the fixed take-profit multiple of the stop distance (1:5).
const RewardRisk = 5.0

// TradeSignal is a fully confirmed setup. It is built once and only transmitted.
type TradeSignal struct {
	Direction  Direction `json:"direction"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`

	// Informational only, filled by the caller for downstream consumers.
	Symbol string    `json:"symbol,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

// JSON returns the JSON-encoded signal (ignoring errors, all fields are plain).
func (s *TradeSignal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

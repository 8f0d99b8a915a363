package strategy

import (
	"fmt"

	"deriv-signalbot/internal/model"
)

// Minimum series lengths the funnel needs.
const (
	MinM15 = 5
	MinM5  = 5
	MinM1  = 3
)

// Outcome is where the funnel stopped.
type Outcome int

const (
	OutcomeInsufficientData Outcome = iota
	OutcomeInvalidData
	OutcomeTrendUnclear
	OutcomeNoBOS
	OutcomeWickInvalid
	OutcomeSignal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInsufficientData:
		return "insufficient_data"
	case OutcomeInvalidData:
		return "invalid_data"
	case OutcomeTrendUnclear:
		return "trend_unclear"
	case OutcomeNoBOS:
		return "no_bos"
	case OutcomeWickInvalid:
		return "wick_invalid"
	case OutcomeSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Series groups the three candle batches the funnel reads, oldest first.
type Series struct {
	M15 []model.Candle
	M5  []model.Candle
	M1  []model.Candle
}

// Result holds the stage results evaluated so far.
// Later stage fields stay zero when an earlier stage stopped the funnel.
type Result struct {
	Outcome      Outcome
	Trend        TrendResult
	BOS          BOSResult
	Confirmation ConfirmationResult
	Signal       *TradeSignal // non-nil only for OutcomeSignal
}

// Status renders the result as the short human-readable status text
// published to chat users.
func (r Result) Status() string {
	switch r.Outcome {
	case OutcomeInsufficientData:
		return "⏳ Not enough candle data"
	case OutcomeInvalidData:
		return "⚠️ Invalid candle data, skipping"
	case OutcomeTrendUnclear:
		return "🔍 Trend unclear"
	case OutcomeNoBOS:
		return fmt.Sprintf("📉 Trend: %s, BOS not found", r.Trend.Trend)
	case OutcomeWickInvalid:
		return fmt.Sprintf("📊 Trend: %s, BOS confirmed, wick invalid", r.Trend.Trend)
	case OutcomeSignal:
		return fmt.Sprintf("✅ %s signal sent", r.Signal.Direction)
	default:
		return "unknown"
	}
}

// Evaluate runs the funnel. Each stage short-circuits the next.
func Evaluate(s Series) Result {
	if len(s.M15) < MinM15 || len(s.M5) < MinM5 || len(s.M1) < MinM1 {
		return Result{Outcome: OutcomeInsufficientData}
	}

	res := Result{}

	res.Trend = DetectTrend(s.M15)
	if !res.Trend.Valid {
		res.Outcome = OutcomeInvalidData
		return res
	}
	dir, ok := res.Trend.Trend.Direction()
	if !ok {
		res.Outcome = OutcomeTrendUnclear
		return res
	}

	res.BOS = DetectBOS(s.M5, dir)
	if !res.BOS.Valid {
		res.Outcome = OutcomeInvalidData
		return res
	}
	if !res.BOS.Found {
		res.Outcome = OutcomeNoBOS
		return res
	}

	res.Confirmation = ConfirmOrderBlock(s.M1, dir)
	if !res.Confirmation.Valid {
		res.Outcome = OutcomeInvalidData
		return res
	}
	if !res.Confirmation.Confirmed {
		res.Outcome = OutcomeWickInvalid
		return res
	}

	res.Outcome = OutcomeSignal
	res.Signal = &TradeSignal{
		Direction:  dir,
		Entry:      res.Confirmation.Entry,
		StopLoss:   res.Confirmation.StopLoss,
		TakeProfit: res.Confirmation.TakeProfit,
	}
	return res
}

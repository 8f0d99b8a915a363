package strategy

import (
	"math"

	"deriv-signalbot/internal/model"
)

const (
	trendWindow = 5
	bosWindow   = 5
)

// TrendResult is the outcome of stage 1.
type TrendResult struct {
	Trend Trend
	Valid bool // false when a compared price was not finite
}

// DetectTrend reads the last 5 candles of the 15m series.
// Strictly rising lows on the first three give BUY, otherwise strictly
// falling highs give SELL, otherwise UNCLEAR. Fewer than three candles give
// an invalid result.
func DetectTrend(m15 []model.Candle) TrendResult {
	w := model.Last(m15, trendWindow)
	if len(w) < 3 || !finite(w[0].Low, w[1].Low, w[2].Low, w[0].High, w[1].High, w[2].High) {
		return TrendResult{Trend: TrendUnclear}
	}

	lows := [3]float64{w[0].Low, w[1].Low, w[2].Low}
	highs := [3]float64{w[0].High, w[1].High, w[2].High}

	switch {
	case lows[1] > lows[0] && lows[2] > lows[1]:
		return TrendResult{Trend: TrendBuy, Valid: true}
	case highs[1] < highs[0] && highs[2] < highs[1]:
		return TrendResult{Trend: TrendSell, Valid: true}
	default:
		return TrendResult{Trend: TrendUnclear, Valid: true}
	}
}

// BOSResult is the outcome of stage 2.
type BOSResult struct {
	Found bool
	Valid bool
	Level float64 // the broken extreme of the second-to-last 5m candle
	Close float64 // close of the last 5m candle
}

// DetectBOS checks whether the last 5m close broke the previous candle's extreme
// in the trend direction. Equality is not a break.
func DetectBOS(m5 []model.Candle, dir Direction) BOSResult {
	w := model.Last(m5, bosWindow)
	if len(w) < 2 {
		return BOSResult{}
	}
	last, prev := w[len(w)-1], w[len(w)-2]

	switch dir {
	case Buy:
		if !finite(last.Close, prev.High) {
			return BOSResult{}
		}
		return BOSResult{Found: last.Close > prev.High, Valid: true, Level: prev.High, Close: last.Close}
	case Sell:
		if !finite(last.Close, prev.Low) {
			return BOSResult{}
		}
		return BOSResult{Found: last.Close < prev.Low, Valid: true, Level: prev.Low, Close: last.Close}
	default:
		return BOSResult{}
	}
}

// ConfirmationResult is the outcome of stage 3.
type ConfirmationResult struct {
	Confirmed bool
	Valid     bool

	OrderBlock model.Candle
	Entry      float64
	StopLoss   float64
	TakeProfit float64
}

// ConfirmOrderBlock treats the second-to-last 1m candle as the order block.
// Entry is its close, the stop sits beyond its wick, and take-profit is
// RewardRisk times the stop distance. The last 1m candle confirms when its
// wick re-touches the order block extreme (inclusive).
func ConfirmOrderBlock(m1 []model.Candle, dir Direction) ConfirmationResult {
	if len(m1) < 2 {
		return ConfirmationResult{}
	}
	ob, c := m1[len(m1)-2], m1[len(m1)-1]
	res := ConfirmationResult{OrderBlock: ob, Entry: ob.Close}

	switch dir {
	case Buy:
		if !finite(ob.Close, ob.Low, c.Low) {
			return res
		}
		res.StopLoss = ob.Low
		res.TakeProfit = res.Entry + RewardRisk*math.Abs(res.Entry-res.StopLoss)
		res.Confirmed = c.Low <= ob.Low
	case Sell:
		if !finite(ob.Close, ob.High, c.High) {
			return res
		}
		res.StopLoss = ob.High
		res.TakeProfit = res.Entry - RewardRisk*math.Abs(res.Entry-res.StopLoss)
		res.Confirmed = c.High >= ob.High
	default:
		return res
	}

	res.Valid = true
	return res
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

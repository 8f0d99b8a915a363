package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deriv-signalbot/internal/model"
)

// flat returns n identical candles at price p.
func flat(n int, p float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Open: p, High: p, Low: p, Close: p}
	}
	return out
}

// buySeries is the reference BUY setup: rising 15m lows, a 5m close of 21
// above the prior high of 20, and a 1m order block (close 21, low 19)
// re-tapped by a wick down to 18.
func buySeries() Series {
	m15 := make([]model.Candle, 5)
	for i, low := range []float64{10, 11, 12, 13, 14} {
		m15[i] = model.Candle{Open: low + 1, High: low + 3, Low: low, Close: low + 2}
	}

	m5 := flat(5, 15)
	m5[3] = model.Candle{Open: 18, High: 20, Low: 17, Close: 19}
	m5[4] = model.Candle{Open: 19, High: 22, Low: 18.5, Close: 21}

	m1 := flat(3, 20)
	m1[1] = model.Candle{Open: 20, High: 22, Low: 19, Close: 21}
	m1[2] = model.Candle{Open: 21, High: 21.5, Low: 18, Close: 20}

	return Series{M15: m15, M5: m5, M1: m1}
}

// mirror reflects every price around zero, which swaps highs and lows.
func mirror(s []model.Candle) []model.Candle {
	out := make([]model.Candle, len(s))
	for i, c := range s {
		out[i] = model.Candle{Open: -c.Open, High: -c.Low, Low: -c.High, Close: -c.Close, Epoch: c.Epoch}
	}
	return out
}

func TestEvaluate_BuySignalEndToEnd(t *testing.T) {
	res := Evaluate(buySeries())

	require.Equal(t, OutcomeSignal, res.Outcome)
	require.NotNil(t, res.Signal)
	assert.Equal(t, TradeSignal{Direction: Buy, Entry: 21, StopLoss: 19, TakeProfit: 31}, *res.Signal)
	assert.Equal(t, TrendBuy, res.Trend.Trend)
	assert.True(t, res.BOS.Found)
	assert.True(t, res.Confirmation.Confirmed)
}

func TestEvaluate_MirroredSeriesGivesSell(t *testing.T) {
	s := buySeries()
	res := Evaluate(Series{M15: mirror(s.M15), M5: mirror(s.M5), M1: mirror(s.M1)})

	require.Equal(t, OutcomeSignal, res.Outcome)
	assert.Equal(t, TrendSell, res.Trend.Trend)
	assert.Equal(t, Sell, res.Signal.Direction)
	assert.Equal(t, -21.0, res.Signal.Entry)
	assert.Equal(t, -19.0, res.Signal.StopLoss)
	assert.Equal(t, -31.0, res.Signal.TakeProfit)
}

func TestEvaluate_InsufficientData(t *testing.T) {
	full := buySeries()
	tests := []struct {
		name string
		s    Series
	}{
		{"short 15m", Series{M15: full.M15[:4], M5: full.M5, M1: full.M1}},
		{"short 5m", Series{M15: full.M15, M5: full.M5[:4], M1: full.M1}},
		{"short 1m", Series{M15: full.M15, M5: full.M5, M1: full.M1[:2]}},
		{"empty", Series{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.s)
			assert.Equal(t, OutcomeInsufficientData, res.Outcome)
			assert.Equal(t, Trend(""), res.Trend.Trend, "no stage should have run")
			assert.Nil(t, res.Signal)
		})
	}
}

func TestDetectTrend(t *testing.T) {
	mk := func(lows, highs [5]float64) []model.Candle {
		out := make([]model.Candle, 5)
		for i := range out {
			out[i] = model.Candle{Low: lows[i], High: highs[i]}
		}
		return out
	}

	tests := []struct {
		name  string
		lows  [5]float64
		highs [5]float64
		want  Trend
	}{
		{"rising lows", [5]float64{1, 2, 3, 0, 0}, [5]float64{5, 5, 5, 5, 5}, TrendBuy},
		{"falling highs", [5]float64{1, 1, 1, 1, 1}, [5]float64{9, 8, 7, 9, 9}, TrendSell},
		{"equal lows are not rising", [5]float64{1, 2, 2, 3, 4}, [5]float64{5, 5, 5, 5, 5}, TrendUnclear},
		{"equal highs are not falling", [5]float64{1, 1, 1, 1, 1}, [5]float64{9, 8, 8, 7, 6}, TrendUnclear},
		{"rising lows win over falling highs", [5]float64{1, 2, 3, 4, 5}, [5]float64{9, 8, 7, 6, 5}, TrendBuy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectTrend(mk(tt.lows, tt.highs))
			assert.True(t, got.Valid)
			assert.Equal(t, tt.want, got.Trend)
		})
	}
}

func TestDetectTrend_UsesLastFiveCandles(t *testing.T) {
	older := flat(5, 100)
	s := append(older, buySeries().M15...)
	assert.Equal(t, TrendBuy, DetectTrend(s).Trend)
}

func TestDetectBOS_StrictInequality(t *testing.T) {
	m5 := flat(5, 15)
	m5[3] = model.Candle{High: 20, Low: 10}
	m5[4] = model.Candle{Close: 20}

	assert.False(t, DetectBOS(m5, Buy).Found, "close equal to prior high must not break")

	m5[4].Close = 20.0001
	assert.True(t, DetectBOS(m5, Buy).Found)

	m5[4].Close = 10
	assert.False(t, DetectBOS(m5, Sell).Found, "close equal to prior low must not break")

	m5[4].Close = 9.9999
	assert.True(t, DetectBOS(m5, Sell).Found)
}

func TestConfirmOrderBlock_TakeProfitIsFiveTimesRisk(t *testing.T) {
	m1 := []model.Candle{
		{},
		{Close: 100, High: 104, Low: 97},
		{Low: 97, High: 104},
	}

	buy := ConfirmOrderBlock(m1, Buy)
	assert.Equal(t, 97.0, buy.StopLoss)
	assert.Equal(t, 100+5*3.0, buy.TakeProfit)

	sell := ConfirmOrderBlock(m1, Sell)
	assert.Equal(t, 104.0, sell.StopLoss)
	assert.Equal(t, 100-5*4.0, sell.TakeProfit)
}

func TestConfirmOrderBlock_WickIsInclusive(t *testing.T) {
	ob := model.Candle{Close: 100, High: 104, Low: 97}

	tests := []struct {
		name string
		dir  Direction
		last model.Candle
		want bool
	}{
		{"buy touch", Buy, model.Candle{Low: 97}, true},
		{"buy pierce", Buy, model.Candle{Low: 96}, true},
		{"buy miss", Buy, model.Candle{Low: 97.5}, false},
		{"sell touch", Sell, model.Candle{High: 104}, true},
		{"sell pierce", Sell, model.Candle{High: 105}, true},
		{"sell miss", Sell, model.Candle{High: 103.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConfirmOrderBlock([]model.Candle{{}, ob, tt.last}, tt.dir)
			assert.Equal(t, tt.want, got.Confirmed)
		})
	}
}

func TestEvaluate_StopsAtEachStage(t *testing.T) {
	s := buySeries()
	s.M15[1].Low = s.M15[0].Low
	assert.Equal(t, OutcomeTrendUnclear, Evaluate(s).Outcome)

	s = buySeries()
	s.M5[4].Close = 20
	res := Evaluate(s)
	assert.Equal(t, OutcomeNoBOS, res.Outcome)
	assert.Equal(t, "📉 Trend: BUY, BOS not found", res.Status())

	s = buySeries()
	s.M1[2].Low = 19.5
	res = Evaluate(s)
	assert.Equal(t, OutcomeWickInvalid, res.Outcome)
	assert.Nil(t, res.Signal)
}

func TestEvaluate_MalformedFieldsNeverPanic(t *testing.T) {
	// Fields that failed to parse arrive as zero.
	s := buySeries()
	s.M5[4] = model.Candle{Malformed: true}
	s.M1[1] = model.Candle{Malformed: true}
	assert.NotPanics(t, func() {
		res := Evaluate(s)
		assert.Equal(t, OutcomeNoBOS, res.Outcome)
	})

	s = buySeries()
	s.M1[1].Low = math.NaN()
	assert.Equal(t, OutcomeInvalidData, Evaluate(s).Outcome)

	s = buySeries()
	s.M15[0].Low = math.Inf(1)
	assert.Equal(t, OutcomeInvalidData, Evaluate(s).Outcome)
}

func TestStages_ShortInputIsInvalid(t *testing.T) {
	for _, n := range []int{0, 1} {
		c := flat(n, 10)

		assert.False(t, DetectBOS(c, Buy).Valid)
		assert.False(t, DetectBOS(c, Sell).Found)

		conf := ConfirmOrderBlock(c, Buy)
		assert.False(t, conf.Valid)
		assert.False(t, conf.Confirmed)
	}

	for _, n := range []int{0, 2} {
		res := DetectTrend(flat(n, 10))
		assert.False(t, res.Valid)
		assert.Equal(t, TrendUnclear, res.Trend)
	}
}

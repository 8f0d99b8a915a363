package model

import "time"

// Candle is one OHLC bar returned by the candle source.
// Prices are float64 because synthetic indices quote with fractional pips.
type Candle struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	Epoch int64   `json:"epoch,omitempty"` // bucket open time (unix seconds), 0 if absent

	// Malformed is true when at least one OHLC field could not be parsed
	// and was replaced with 0.
	Malformed bool `json:"-"`
}

// Time returns the candle open time in UTC, or the zero time if no epoch was sent.
func (c Candle) Time() time.Time {
	if c.Epoch == 0 {
		return time.Time{}
	}
	return time.Unix(c.Epoch, 0).UTC()
}

// Last returns the trailing n candles of s (all of s if shorter).
func Last(s []Candle, n int) []Candle {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// DropMalformed returns the candles whose fields all parsed cleanly.
// The input slice is not modified.
func DropMalformed(s []Candle) []Candle {
	out := make([]Candle, 0, len(s))
	for _, c := range s {
		if !c.Malformed {
			out = append(out, c)
		}
	}
	return out
}

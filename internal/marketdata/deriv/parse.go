package deriv

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"deriv-signalbot/internal/model"
)

// APIError is an error payload returned by the endpoint itself.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deriv: api error %s: %s", e.Code, e.Message)
}

// candlePaths are tried in order; the first array found wins.
var candlePaths = []string{"candles", "data.candles", "data"}

// parseCandles decodes a ticks_history response. Unknown shapes give an
// empty batch. Fields that are missing or not numeric become 0 and mark the
// candle Malformed instead of failing the batch.
func parseCandles(raw []byte) ([]model.Candle, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("deriv: invalid json response (%d bytes)", len(raw))
	}
	root := gjson.ParseBytes(raw)

	if e := root.Get("error"); e.Exists() {
		return nil, &APIError{Code: e.Get("code").String(), Message: e.Get("message").String()}
	}

	var list gjson.Result
	for _, p := range candlePaths {
		if r := root.Get(p); r.IsArray() {
			list = r
			break
		}
	}
	if !list.Exists() {
		return []model.Candle{}, nil
	}

	items := list.Array()
	out := make([]model.Candle, 0, len(items))
	for _, item := range items {
		out = append(out, parseCandle(item))
	}
	return out, nil
}

func parseCandle(item gjson.Result) model.Candle {
	if !item.IsObject() {
		return model.Candle{Malformed: true}
	}

	var c model.Candle
	ok := true
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"open", &c.Open},
		{"high", &c.High},
		{"low", &c.Low},
		{"close", &c.Close},
	} {
		v, good := toFloat(item.Get(f.key))
		*f.dst = v
		ok = ok && good
	}
	c.Malformed = !ok
	c.Epoch = toInt64(item.Get("epoch"))
	return c
}

// toFloat accepts JSON numbers and numeric strings. Anything else, including
// NaN/Inf spelled as strings, yields (0, false).
func toFloat(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toInt64(r gjson.Result) int64 {
	switch r.Type {
	case gjson.Number:
		return int64(r.Num)
	case gjson.String:
		n, _ := strconv.ParseInt(strings.TrimSpace(r.Str), 10, 64)
		return n
	default:
		return 0
	}
}

package deriv

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deriv-signalbot/internal/circuitbreaker"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newServer answers each ticks_history request with reply(req).
func newServer(t *testing.T, reply func(req map[string]any) []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		req["app_id"] = r.URL.Query().Get("app_id")
		for _, msg := range reply(req) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection open until the client hangs up.
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_Candles(t *testing.T) {
	reqs := make(chan map[string]any, 1)
	srv := newServer(t, func(req map[string]any) []string {
		reqs <- req
		return []string{`{"msg_type":"candles","req_id":1,"candles":[{"epoch":1,"open":1,"high":2,"low":0.5,"close":1.5},{"epoch":2,"open":1.5,"high":2.5,"low":1,"close":2}]}`}
	})

	c, err := New(Config{URL: wsURL(srv), AppID: "1089", Timeout: 2 * time.Second})
	require.NoError(t, err)

	candles, err := c.Candles(context.Background(), "R_75", 300, 10)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 2.0, candles[1].Close)

	got := <-reqs
	assert.Equal(t, "R_75", got["ticks_history"])
	assert.Equal(t, "candles", got["style"])
	assert.Equal(t, float64(300), got["granularity"])
	assert.Equal(t, float64(10), got["count"])
	assert.Equal(t, "latest", got["end"])
	assert.Equal(t, "1089", got["app_id"])
}

func TestClient_SkipsUnrelatedMessages(t *testing.T) {
	srv := newServer(t, func(req map[string]any) []string {
		id := int(req["req_id"].(float64))
		return []string{
			`{"msg_type":"ping","req_id":99999}`,
			`{"msg_type":"candles","req_id":` + strconv.Itoa(id) + `,"candles":[{"open":1,"high":1,"low":1,"close":1}]}`,
		}
	})

	c, err := New(Config{URL: wsURL(srv), Timeout: 2 * time.Second})
	require.NoError(t, err)

	candles, err := c.Candles(context.Background(), "R_75", 60, 1)
	require.NoError(t, err)
	assert.Len(t, candles, 1)
}

func TestClient_APIErrorIsReturned(t *testing.T) {
	srv := newServer(t, func(map[string]any) []string {
		return []string{`{"error":{"code":"InvalidSymbol","message":"bad symbol"}}`}
	})

	c, err := New(Config{URL: wsURL(srv), Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = c.Candles(context.Background(), "NOPE", 60, 10)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestClient_TimeoutWhenServerIsSilent(t *testing.T) {
	srv := newServer(t, func(map[string]any) []string { return nil })

	c, err := New(Config{URL: wsURL(srv), Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Candles(context.Background(), "R_75", 60, 10)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_BreakerOpensOnDialFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	var fetches atomic.Int32
	cb := circuitbreaker.New(2, time.Minute)
	c, err := New(Config{URL: url, Timeout: time.Second, Breaker: cb})
	require.NoError(t, err)
	c.OnFetch = func(int, time.Duration, error) { fetches.Add(1) }

	for i := 0; i < 2; i++ {
		_, err := c.Candles(context.Background(), "R_75", 60, 10)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.CurrentState())

	_, err = c.Candles(context.Background(), "R_75", 60, 10)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(3), fetches.Load())
}

func TestClient_CancelledFetchesDoNotTripBreaker(t *testing.T) {
	srv := newServer(t, func(map[string]any) []string { return nil })

	var fetches atomic.Int32
	cb := circuitbreaker.New(5, time.Minute)
	c, err := New(Config{URL: wsURL(srv), Timeout: 5 * time.Second, Breaker: cb})
	require.NoError(t, err)
	c.OnFetch = func(int, time.Duration, error) { fetches.Add(1) }

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)
		_, err := c.Candles(ctx, "R_75", 60, 10)
		require.ErrorIs(t, err, context.Canceled)
		cancel()
	}

	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState())
	assert.Zero(t, fetches.Load())
}

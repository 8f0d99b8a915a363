package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deriv-signalbot/internal/strategy"
)

func setupTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestNew_PingsServer(t *testing.T) {
	_, mr := setupTestRedis(t)

	p, err := New(PublisherConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "signal:R_75", p.ChannelFor("R_75"))
}

func TestNew_FailsWhenUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New(PublisherConfig{Addr: addr})
	assert.ErrorContains(t, err, "redis ping")
}

func TestPublisher_Publish(t *testing.T) {
	client, _ := setupTestRedis(t)
	p := NewWithClient(client, "signals")

	ctx := context.Background()
	sub := client.Subscribe(ctx, "signals:R_75")
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	sig := strategy.TradeSignal{
		Direction:  strategy.Buy,
		Entry:      21,
		StopLoss:   19,
		TakeProfit: 31,
		Symbol:     "R_75",
		At:         time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	n, err := p.Publish(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case msg := <-sub.Channel():
		var got strategy.TradeSignal
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, sig, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published signal")
	}
}

func TestPublisher_NoSubscribers(t *testing.T) {
	client, _ := setupTestRedis(t)
	p := NewWithClient(client, "")

	n, err := p.Publish(context.Background(), strategy.TradeSignal{Direction: strategy.Sell, Symbol: "R_50"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"deriv-signalbot/internal/circuitbreaker"
	"deriv-signalbot/internal/strategy"
)

// BufferedPublisher wraps a Publisher with a circuit breaker.
// While the circuit is open, signals are held locally and flushed
// when the circuit closes again.
type BufferedPublisher struct {
	pub *Publisher
	cb  *circuitbreaker.CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []strategy.TradeSignal
	maxBuf int // oldest signals are dropped past this (default: 1000)

	// Callbacks
	OnBuffer func()          // called when a signal is buffered
	OnFlush  func(count int) // called after flushing buffered signals
}

// NewBufferedPublisher creates a BufferedPublisher. ctx bounds flushes.
func NewBufferedPublisher(ctx context.Context, p *Publisher, cb *circuitbreaker.CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bp := &BufferedPublisher{
		pub:    p,
		cb:     cb,
		ctx:    ctx,
		maxBuf: maxBufferSize,
	}

	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to circuitbreaker.State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == circuitbreaker.StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// Publish sends sig through the circuit breaker. If the circuit is open the
// signal is buffered and nil is returned.
func (bp *BufferedPublisher) Publish(ctx context.Context, sig strategy.TradeSignal) error {
	err := bp.cb.Execute(func() error {
		_, err := bp.pub.Publish(ctx, sig)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		bp.bufferSignal(sig)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferSignal(sig strategy.TradeSignal) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, sig)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush publishes all buffered signals in arrival order. Signals that fail
// again are put back in front of anything buffered meanwhile.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = nil
	bp.mu.Unlock()

	flushed := 0
	for i, sig := range toFlush {
		if _, err := bp.pub.Publish(bp.ctx, sig); err != nil {
			log.Printf("[redis] flush stopped after %d signals: %v", flushed, err)
			bp.mu.Lock()
			bp.buffer = append(append([]strategy.TradeSignal{}, toFlush[i:]...), bp.buffer...)
			if over := len(bp.buffer) - bp.maxBuf; over > 0 {
				bp.buffer = bp.buffer[over:]
			}
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	log.Printf("[redis] flushed %d buffered signals", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// RetryEvery starts a goroutine that pings Redis through the breaker every
// interval while signals are buffered, so recovery does not wait for the
// next Publish. It stops when the constructor's ctx is done.
func (bp *BufferedPublisher) RetryEvery(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-bp.ctx.Done():
				return
			case <-ticker.C:
				bp.retry()
			}
		}
	}()
}

func (bp *BufferedPublisher) retry() {
	if bp.PendingCount() == 0 {
		return
	}
	wasClosed := bp.cb.CurrentState() == circuitbreaker.StateClosed
	err := bp.cb.Execute(func() error {
		return bp.pub.Client().Ping(bp.ctx).Err()
	})
	// A breaker that just closed flushes from its state hook.
	if err == nil && wasClosed {
		bp.flush()
	}
}

// PendingCount returns the number of buffered signals waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Underlying returns the wrapped Publisher.
func (bp *BufferedPublisher) Underlying() *Publisher {
	return bp.pub
}

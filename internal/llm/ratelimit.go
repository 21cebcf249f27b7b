package llm

import (
	"context"
	"sync"
	"time"
)

// rpsLimiter is a token bucket that allows rps events per second with a
// burst capacity. Tokens refill lazily from elapsed time, so an idle limiter
// holds no goroutine.
type rpsLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// newRPSLimiter returns nil when rps <= 0; a nil limiter never blocks.
func newRPSLimiter(rps float64, burst int) *rpsLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	l := &rpsLimiter{rate: rps, burst: float64(burst), tokens: float64(burst), now: time.Now}
	l.last = l.now()
	return l
}

// reserve takes one token and returns how long the caller must wait for it.
// The bucket may go negative, which queues later callers behind earlier ones.
func (l *rpsLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}

func (l *rpsLimiter) cancel() {
	l.mu.Lock()
	l.tokens++
	l.mu.Unlock()
}

// Acquire blocks until a token is available or the context is canceled.
func (l *rpsLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	wait := l.reserve()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		l.cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

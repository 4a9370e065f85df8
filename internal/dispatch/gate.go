package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces the minimum spacing between consecutive send attempts.
//
// One Gate exists per transport credential and every job's every attempt
// (including retries) waits on it, so concurrent jobs can never violate
// the shared rate limit. Burst is pinned to 1: the interval is a floor,
// not an average.
type Gate struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = time.Second
	}
	return &Gate{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next send slot or ctx cancellation.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	lim := g.lim
	g.mu.Unlock()
	return lim.Wait(ctx)
}

// SetInterval swaps the spacing at runtime (config reload). In-flight
// waiters finish against the old limiter.
func (g *Gate) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	g.mu.Lock()
	g.lim = rate.NewLimiter(rate.Every(interval), 1)
	g.mu.Unlock()
}

package tally

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pacer serializes all requests from one client behind a single adaptive
// inter-request delay. The remote service enforces one per-key budget
// regardless of caller concurrency, so a burst of 1 is deliberate: no two
// dispatches may be closer together than the current delay.
type pacer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	delay   time.Duration
	floor   time.Duration
	ceiling time.Duration
}

func newPacer(floor, ceiling time.Duration) *pacer {
	return &pacer{
		limiter: rate.NewLimiter(rate.Every(floor), 1),
		delay:   floor,
		floor:   floor,
		ceiling: ceiling,
	}
}

// Wait blocks until the adaptive delay since the previous dispatch has
// elapsed. The mutex is never held across the wait itself.
func (p *pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// OnSuccess relaxes the delay toward the floor.
func (p *pacer) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = time.Duration(float64(p.delay) * 0.98)
	if p.delay < p.floor {
		p.delay = p.floor
	}
	p.limiter.SetLimit(rate.Every(p.delay))
}

// OnRateLimit tightens the delay toward the ceiling after a 429.
func (p *pacer) OnRateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = time.Duration(float64(p.delay) * 1.5)
	if p.delay > p.ceiling {
		p.delay = p.ceiling
	}
	p.limiter.SetLimit(rate.Every(p.delay))
	zap.L().Warn("tally: tightening request delay after 429",
		zap.Duration("delay", p.delay),
	)
}

// Delay returns the current adaptive delay.
func (p *pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

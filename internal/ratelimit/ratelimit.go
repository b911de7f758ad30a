package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// FixedDelay spaces consecutive actions by at least a fixed interval.
// The first action passes immediately.
type FixedDelay struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	delay   time.Duration
}

func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{
		limiter: newLimiter(delay),
		delay:   delay,
	}
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (f *FixedDelay) Wait(ctx context.Context) error {
	f.mu.Lock()
	l := f.limiter
	f.mu.Unlock()

	return l.Wait(ctx)
}

func (f *FixedDelay) SetDelay(delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.delay = delay
	f.limiter = newLimiter(delay)
}

func (f *FixedDelay) Delay() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delay
}

// Nop never waits.
type Nop struct{}

func (Nop) Wait(ctx context.Context) error {
	return ctx.Err()
}

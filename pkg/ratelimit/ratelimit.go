// Package ratelimit spaces out provider calls by a minimum interval.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between successive calls. It is safe
// for concurrent use; concurrent callers are admitted one interval apart.
type Limiter struct {
	interval time.Duration
	lim      *rate.Limiter
}

// New returns a limiter admitting one call per interval. A non-positive
// interval never blocks.
func New(interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{interval: interval, lim: rate.NewLimiter(limit, 1)}
}

// PerSecond returns a limiter admitting n calls per second.
func PerSecond(n float64) *Limiter {
	if n <= 0 {
		return New(0)
	}
	return New(time.Duration(float64(time.Second) / n))
}

// Interval returns the configured minimum interval.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Wait blocks until the next call may proceed or ctx is done.
// A nil limiter never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.lim.Wait(ctx)
}

// WaitAsync runs Wait on a goroutine and delivers its result.
func (l *Limiter) WaitAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- l.Wait(ctx) }()
	return ch
}

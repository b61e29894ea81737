// Package retry re-invokes failing operations with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/internal/telemetry"
)

// Config controls retry behaviour.
type Config struct {
	MaxRetries      int           // retries after the first attempt
	BaseDelay       time.Duration // delay before the first retry
	MaxDelay        time.Duration // cap for any single delay
	ExponentialBase float64       // growth factor between delays

	// RetryOn limits retries to errors matching one of these with errors.Is.
	// Empty retries every error.
	RetryOn []error

	// RetryIf, when set, must also approve the error.
	RetryIf func(error) bool
}

// Default is used when a caller does not configure retries.
var Default = Config{
	MaxRetries:      3,
	BaseDelay:       time.Second,
	MaxDelay:        60 * time.Second,
	ExponentialBase: 2.0,
}

// None performs a single attempt.
var None = Config{}

// OnRetry is told about each failed attempt that will be retried.
// attempt is 1-based.
type OnRetry func(err error, attempt int)

// Outcome carries the result of an asynchronous run.
type Outcome[T any] struct {
	Value T
	Err   error
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// sleep is swapped in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryable reports whether err qualifies for another attempt under c.
func (c Config) Retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if c.RetryIf != nil && !c.RetryIf(err) {
		return false
	}
	if len(c.RetryOn) == 0 {
		return true
	}
	for _, target := range c.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Delays returns the first n delays the config would produce.
func (c Config) Delays(n int) []time.Duration {
	b := c.backOff()
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = c.next(b)
	}
	return out
}

func (c Config) backOff() *backoff.ExponentialBackOff {
	mult := c.ExponentialBase
	if mult < 1 {
		mult = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.Multiplier = mult
	b.RandomizationFactor = 0
	b.MaxInterval = c.maxDelay()
	b.Reset()
	return b
}

func (c Config) maxDelay() time.Duration {
	if c.MaxDelay <= 0 {
		return c.BaseDelay
	}
	return c.MaxDelay
}

func (c Config) next(b *backoff.ExponentialBackOff) time.Duration {
	if c.BaseDelay <= 0 {
		return 0
	}
	return min(b.NextBackOff(), c.maxDelay())
}

// Do runs op until it succeeds, the error is not retryable, or MaxRetries
// retries have been spent. The last error is returned unchanged.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), onRetry OnRetry) (T, error) {
	var zero T
	b := cfg.backOff()
	attempts := max(cfg.MaxRetries, 0) + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == attempts || !cfg.Retryable(err) {
			break
		}

		delay := cfg.next(b)
		logger.Debug("retrying after failure",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err)
		telemetry.Retries.Inc()
		notify(onRetry, err, attempt)

		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w (last error: %w)", err, lastErr)
		}
	}
	return zero, lastErr
}

// DoAsync runs Do on a goroutine and delivers a single Outcome.
func DoAsync[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), onRetry OnRetry) <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	go func() {
		v, err := Do(ctx, cfg, op, onRetry)
		ch <- Outcome[T]{Value: v, Err: err}
	}()
	return ch
}

func notify(fn OnRetry, err error, attempt int) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("retry callback panicked", "attempt", attempt, "panic", r)
		}
	}()
	fn(err, attempt)
}

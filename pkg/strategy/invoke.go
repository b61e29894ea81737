package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/internal/telemetry"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/ratelimit"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Invoker makes a single logical provider call: it waits on the rate
// limiter, applies the per-call timeout and retries transient failures.
type Invoker struct {
	Retry   retry.Config
	Limiter *ratelimit.Limiter
	Timeout time.Duration
}

// Call invokes p on behalf of the named strategy. Failures come back as
// *Error wrapping ErrProviderFailure and the provider's last error.
func (iv Invoker) Call(ctx context.Context, strategy string, p provider.Provider, req *provider.Request) (provider.Result, error) {
	res, err := retry.Do(ctx, iv.Retry, func(ctx context.Context) (provider.Result, error) {
		if err := iv.Limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		return iv.once(ctx, p, req)
	}, nil)
	if err != nil {
		return nil, &Error{
			Strategy: strategy,
			Provider: p.Name(),
			Err:      fmt.Errorf("%w: %w", ErrProviderFailure, err),
		}
	}
	return res, nil
}

func (iv Invoker) once(ctx context.Context, p provider.Provider, req *provider.Request) (provider.Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = iv.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := p.Process(ctx, req)
	status := telemetry.Status(err)

	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = "timeout"
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	case err == nil && res == nil:
		status = "error"
		err = provider.ErrEmptyResult
	}
	telemetry.ProviderCalls.WithLabelValues(p.Name(), status).Inc()

	if err != nil {
		logger.Debug("provider call failed",
			"provider", p.Name(),
			"duration", time.Since(start),
			"error", err)
		if errors.Is(err, ErrRedactionLeakage) {
			err = retry.Permanent(err)
		}
		return nil, err
	}
	return res, nil
}

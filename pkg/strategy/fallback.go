package strategy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Fallback tries providers one at a time, highest priority first, and
// returns the first success.
type Fallback struct {
	base
	configs []provider.Config

	mu       sync.Mutex
	lastUsed string
}

// NewFallback validates and orders configs. Equal priorities keep their
// list order. Without WithRetry each provider gets a single attempt.
func NewFallback(configs []provider.Config, opts ...Option) (*Fallback, error) {
	if len(configs) == 0 {
		return nil, ErrNoProviders
	}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("fallback provider %s: %w", c.Name(), err)
		}
	}
	ordered := slices.Clone(configs)
	slices.SortStableFunc(ordered, func(a, b provider.Config) int { return b.Priority - a.Priority })

	return &Fallback{base: newBase("fallback", retry.None, opts), configs: ordered}, nil
}

// Order returns provider names in attempt order.
func (f *Fallback) Order() []string {
	names := make([]string, len(f.configs))
	for i, c := range f.configs {
		names[i] = c.Name()
	}
	return names
}

// LastUsed returns the provider that produced the most recent success.
func (f *Fallback) LastUsed() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUsed
}

// Process implements Strategy.
func (f *Fallback) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return f.run(ctx, req, f.waterfall)
}

// ProcessAsync implements Strategy. Providers are still tried in order.
func (f *Fallback) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, f.Process)
}

func (f *Fallback) waterfall(ctx context.Context, req *provider.Request) (provider.Result, error) {
	var (
		lastErr error
		tried   []string
	)
	for _, c := range f.configs {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Strategy: f.name, Err: errors.Join(err, lastErr)}
		}
		name := c.Name()
		tried = append(tried, name)

		res, err := f.invoker.Call(ctx, f.name, c.Provider, req)
		if err == nil {
			f.mu.Lock()
			f.lastUsed = name
			f.mu.Unlock()
			logger.Debug("fallback provider succeeded", "provider", name, "model", c.Model, "attempted", len(tried))
			return res, nil
		}
		logger.Debug("fallback provider failed", "provider", name, "priority", c.Priority, "error", err)
		lastErr = err
	}
	return nil, &Error{
		Strategy: f.name,
		Provider: tried[len(tried)-1],
		Err:      fmt.Errorf("all providers failed (tried: %s): %w", strings.Join(tried, ", "), lastErr),
	}
}

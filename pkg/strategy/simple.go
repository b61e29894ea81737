package strategy

import (
	"context"

	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Simple calls one provider with retries and optional rate limiting.
type Simple struct {
	base
	provider provider.Provider
}

// NewSimple returns a Simple strategy. Without WithRetry it uses
// retry.Default.
func NewSimple(p provider.Provider, opts ...Option) *Simple {
	return &Simple{base: newBase("simple", retry.Default, opts), provider: p}
}

// Process implements Strategy.
func (s *Simple) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return s.run(ctx, req, func(ctx context.Context, req *provider.Request) (provider.Result, error) {
		return s.invoker.Call(ctx, s.name, s.provider, req)
	})
}

// ProcessAsync implements Strategy.
func (s *Simple) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, s.Process)
}

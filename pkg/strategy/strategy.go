// Package strategy composes unreliable provider calls into reliable
// extraction pipelines: fallback waterfalls, content routing, ensembles
// with a judge, page-chunked processing, PII redaction, consistency voting,
// self-verification and bounded-concurrency batches.
//
// Every strategy is itself a provider.Provider, so strategies nest.
package strategy

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/internal/telemetry"
	"github.com/jmylchreest/docsmith/pkg/document"
	"github.com/jmylchreest/docsmith/pkg/hooks"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/ratelimit"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Strategy is a composable document-processing policy.
type Strategy interface {
	provider.Provider
	ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome
}

// Option configures a strategy.
type Option func(*options)

type options struct {
	hooks      *hooks.Set
	dispatcher *hooks.Dispatcher
	retry      *retry.Config
	limiter    *ratelimit.Limiter
	timeout    time.Duration
	loader     document.Loader
}

// WithHooks attaches hooks to the strategy.
func WithHooks(s *hooks.Set) Option { return func(o *options) { o.hooks = s } }

// WithDispatcher routes hook execution through a shared dispatcher. The
// strategy's own hooks are registered with it and removed by Close.
func WithDispatcher(d *hooks.Dispatcher) Option { return func(o *options) { o.dispatcher = d } }

// WithRetry sets the retry policy for provider calls.
func WithRetry(cfg retry.Config) Option { return func(o *options) { o.retry = &cfg } }

// WithRateLimiter spaces provider calls.
func WithRateLimiter(l *ratelimit.Limiter) Option { return func(o *options) { o.limiter = l } }

// WithTimeout bounds each provider call. A request's own Timeout wins.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithLoader sets the document loader for strategies that read documents.
func WithLoader(l document.Loader) Option { return func(o *options) { o.loader = l } }

// base carries what every strategy shares: its name, hooks, and the
// invoker for provider calls.
type base struct {
	name    string
	hooks   hooks.Runner
	reg     *hooks.Registration
	invoker Invoker
	loader  document.Loader
}

func newBase(name string, defaultRetry retry.Config, opts []Option) base {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	b := base{
		name:   name,
		loader: o.loader,
		invoker: Invoker{
			Retry:   defaultRetry,
			Limiter: o.limiter,
			Timeout: o.timeout,
		},
	}
	if o.retry != nil {
		b.invoker.Retry = *o.retry
	}
	if b.loader == nil {
		b.loader = document.FileLoader{}
	}

	b.hooks, b.reg = hooks.Attach(o.hooks, o.dispatcher)
	return b
}

// Name returns the strategy name.
func (b *base) Name() string { return b.name }

// Close unregisters the strategy's hooks from a shared dispatcher. It is a
// no-op for strategies without one.
func (b *base) Close() error { return b.reg.Close() }

type processFunc func(ctx context.Context, req *provider.Request) (provider.Result, error)

// run wraps a strategy body with hooks, tracing, metrics and logging.
func (b *base) run(ctx context.Context, req *provider.Request, fn processFunc) (provider.Result, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "strategy."+b.name,
		attribute.String("document", req.DocumentRef),
		attribute.String("strategy", b.name))

	hc := hooks.NewContext(b.name, req)
	if instr := b.hooks.RunPre(ctx, hc, req.Instruction); instr != req.Instruction {
		req = req.Clone()
		req.Instruction = instr
	}

	res, err := fn(ctx, req)
	if err == nil && res == nil {
		err = &Error{Strategy: b.name, Err: errors.Join(ErrProviderFailure, provider.ErrEmptyResult)}
	}
	if err != nil {
		if fb := b.hooks.RunError(ctx, hc, err); fb != nil {
			logger.Debug("error hook supplied fallback result", "strategy", b.name, "error", err)
			res, err = fb, nil
		}
	}
	if err == nil {
		res = b.hooks.RunPost(ctx, hc, res)
	}

	telemetry.StrategyRequests.WithLabelValues(b.name, telemetry.Status(err)).Inc()
	telemetry.StrategyDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
	telemetry.EndSpan(span, err)
	logger.Debug("strategy finished",
		"strategy", b.name,
		"request_id", hc.ID,
		"document", req.DocumentRef,
		"duration", time.Since(start),
		"error", err)
	return res, err
}

// load returns the request's document, preferring pre-rendered Content.
func (b *base) load(ctx context.Context, req *provider.Request) (*document.Document, error) {
	if req.HasContent() {
		doc := document.FromText(req.DocumentRef, req.Content)
		if req.MIMEType != "" {
			doc.MIMEType = req.MIMEType
		}
		return doc, nil
	}
	doc, err := b.loader.Load(ctx, req.DocumentRef)
	if err != nil {
		return nil, &Error{Strategy: b.name, Err: err}
	}
	return doc, nil
}

// async runs fn on a goroutine and delivers a single outcome.
func async(ctx context.Context, req *provider.Request, fn processFunc) <-chan provider.Outcome {
	ch := make(chan provider.Outcome, 1)
	go func() {
		res, err := fn(ctx, req)
		ch <- provider.Outcome{Result: res, Err: err}
	}()
	return ch
}

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/agent"
	"github.com/jmylchreest/docsmith/pkg/document"
	"github.com/jmylchreest/docsmith/pkg/llm"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/ratelimit"
	"github.com/jmylchreest/docsmith/pkg/retry"
	"github.com/jmylchreest/docsmith/pkg/strategy"
)

type buildFunc func(b *builder, s *StrategySpec) (strategy.Strategy, error)

// builders maps a strategy type to its constructor. It is filled in init
// because the constructors recurse through it.
var builders map[string]buildFunc

func init() {
	builders = map[string]buildFunc{
		"simple":          buildSimple,
		"fallback":        buildFallback,
		"router":          buildRouter,
		"ensemble":        buildEnsemble,
		"sequential":      buildSequential,
		"privacy":         buildPrivacy,
		"active_learning": buildActiveLearning,
		"verified":        buildVerified,
		"agentic":         buildAgentic,
	}
}

// Build constructs the configured strategy tree.
func (c *Config) Build() (strategy.Strategy, error) {
	return newBuilder(c).strategy(&c.Strategy, "strategy")
}

// BuildBatch constructs the batch strategy from the batch section.
func (c *Config) BuildBatch() (*strategy.Batch, error) {
	if c.Batch.Provider == "" {
		return nil, errors.New("batch.provider is required")
	}
	b := newBuilder(c)
	p, err := b.provider(c.Batch.Provider)
	if err != nil {
		return nil, err
	}
	return strategy.NewBatch(p, c.Batch.MaxWorkers, b.options(nil)...), nil
}

type builder struct {
	cfg       *Config
	providers map[string]provider.Provider
	limiter   *ratelimit.Limiter
}

func newBuilder(c *Config) *builder {
	b := &builder{cfg: c, providers: map[string]provider.Provider{}}
	if c.RateLimit.Interval > 0 {
		// One limiter for the whole tree so the interval holds across
		// strategies.
		b.limiter = ratelimit.New(c.RateLimit.Interval)
	}
	return b
}

func (b *builder) strategy(s *StrategySpec, path string) (strategy.Strategy, error) {
	if s == nil {
		return nil, fmt.Errorf("%s: missing strategy", path)
	}
	build, ok := builders[s.Type]
	if !ok {
		return nil, fmt.Errorf("%s: unknown strategy type %q", path, s.Type)
	}
	st, err := build(b, s)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", path, s.Type, err)
	}
	logger.Debug("built strategy", "path", path, "type", s.Type)
	return st, nil
}

func (b *builder) retryConfig() (retry.Config, bool) {
	r := b.cfg.Retry
	if !r.IsSet() {
		return retry.Config{}, false
	}
	cfg := retry.Default
	cfg.MaxRetries = r.MaxRetries
	if r.BaseDelay > 0 {
		cfg.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		cfg.MaxDelay = r.MaxDelay
	}
	if r.ExponentialBase > 0 {
		cfg.ExponentialBase = r.ExponentialBase
	}
	return cfg, true
}

// callsProviders lists the strategy types that call providers directly.
// The retry section applies only to them; wrappers delegate to strategies
// that already retry.
var callsProviders = map[string]bool{
	"simple":   true,
	"fallback": true,
	"ensemble": true,
	"verified": true,
}

func (b *builder) options(s *StrategySpec) []strategy.Option {
	var opts []strategy.Option
	if cfg, ok := b.retryConfig(); ok && (s == nil || callsProviders[s.Type]) {
		opts = append(opts, strategy.WithRetry(cfg))
	}
	if b.limiter != nil {
		opts = append(opts, strategy.WithRateLimiter(b.limiter))
	}
	if s != nil && s.Timeout > 0 {
		opts = append(opts, strategy.WithTimeout(s.Timeout))
	}
	return opts
}

// provider returns the named provider, creating it on first use.
func (b *builder) provider(name string) (provider.Provider, error) {
	if p, ok := b.providers[name]; ok {
		return p, nil
	}
	pc, ok := b.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (configured: %s)", name, strings.Join(b.providerNames(), ", "))
	}

	lc := llm.DefaultProviderConfig()
	lc.Model = pc.Model
	lc.BaseURL = pc.BaseURL
	if pc.APIKeyEnv != "" {
		lc.APIKey = os.Getenv(pc.APIKeyEnv)
	}
	if pc.Timeout > 0 {
		lc.Timeout = pc.Timeout
	}

	opts := []provider.LLMOption{provider.WithName(name)}
	if pc.Temperature > 0 {
		opts = append(opts, provider.WithTemperature(pc.Temperature))
	}
	if pc.MaxTokens > 0 {
		opts = append(opts, provider.WithMaxTokens(pc.MaxTokens))
	}
	if pc.MaxContentSize != "" {
		n, err := humanize.ParseBytes(pc.MaxContentSize)
		if err != nil {
			return nil, fmt.Errorf("provider %q: invalid max_content_size %q: %w", name, pc.MaxContentSize, err)
		}
		opts = append(opts, provider.WithMaxContentSize(int(n)))
	}
	if pc.Readability {
		opts = append(opts, provider.WithLoader(document.FileLoader{Readability: true}))
	}

	p, err := provider.New(pc.Type, lc, opts...)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	b.providers[name] = p
	logger.Debug("created provider", "name", name, "type", pc.Type, "model", pc.Model)
	return p, nil
}

func (b *builder) providerNames() []string {
	names := make([]string, 0, len(b.cfg.Providers))
	for n := range b.cfg.Providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func buildSimple(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	if err := required("provider", s.Provider); err != nil {
		return nil, err
	}
	p, err := b.provider(s.Provider)
	if err != nil {
		return nil, err
	}
	return strategy.NewSimple(p, b.options(s)...), nil
}

func buildFallback(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	if len(s.Providers) == 0 {
		return nil, strategy.ErrNoProviders
	}
	configs := make([]provider.Config, 0, len(s.Providers))
	for _, name := range s.Providers {
		p, err := b.provider(name)
		if err != nil {
			return nil, err
		}
		pc := b.cfg.Providers[name]
		c := provider.NewConfig(p)
		c.Model = pc.Model
		c.Cost = pc.Cost
		if pc.Priority != nil {
			c.Priority = *pc.Priority
		}
		configs = append(configs, c)
	}
	f, err := strategy.NewFallback(configs, b.options(s)...)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func buildRouter(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	if len(s.Keywords) == 0 {
		return nil, errors.New("keywords are required")
	}
	routes := make(map[string]provider.Provider, len(s.Routes))
	for label, spec := range s.Routes {
		st, err := b.strategy(spec, "routes."+label)
		if err != nil {
			return nil, err
		}
		routes[label] = st
	}
	r, err := strategy.NewRouter(strategy.KeywordClassifier(s.Keywords), routes, s.Default, b.options(s)...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func buildEnsemble(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	if err := required("judge", s.Judge); err != nil {
		return nil, err
	}
	members := make([]provider.Provider, 0, len(s.Providers))
	for _, name := range s.Providers {
		p, err := b.provider(name)
		if err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	judge, err := b.provider(s.Judge)
	if err != nil {
		return nil, err
	}
	e, err := strategy.NewEnsemble(members, judge, b.options(s)...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func buildSequential(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	inner, err := b.strategy(s.Inner, "inner")
	if err != nil {
		return nil, err
	}
	return strategy.NewSequential(inner, s.ChunkSizePages, b.options(s)...), nil
}

func buildPrivacy(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	inner, err := b.strategy(s.Inner, "inner")
	if err != nil {
		return nil, err
	}
	detectors, err := selectDetectors(s.Detectors)
	if err != nil {
		return nil, err
	}
	return strategy.NewPrivacy(inner, detectors, b.options(s)...), nil
}

func selectDetectors(labels []string) ([]strategy.Detector, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	all := strategy.DefaultDetectors()
	var out []strategy.Detector
	for _, label := range labels {
		i := slices.IndexFunc(all, func(d strategy.Detector) bool { return strings.EqualFold(d.Label, label) })
		if i < 0 {
			return nil, fmt.Errorf("unknown detector %q", label)
		}
		out = append(out, all[i])
	}
	return out, nil
}

func buildActiveLearning(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	inner, err := b.strategy(s.Inner, "inner")
	if err != nil {
		return nil, err
	}
	threshold := strategy.DefaultConfidenceThreshold
	if s.Threshold != nil {
		threshold = *s.Threshold
	}
	return strategy.NewActiveLearning(inner, s.Trials, threshold, b.options(s)...), nil
}

func buildVerified(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	if err := required("provider", s.Provider); err != nil {
		return nil, err
	}
	p, err := b.provider(s.Provider)
	if err != nil {
		return nil, err
	}
	return strategy.NewVerified(p, s.Passes, b.options(s)...), nil
}

func buildAgentic(b *builder, s *StrategySpec) (strategy.Strategy, error) {
	if err := required("provider", s.Provider); err != nil {
		return nil, err
	}
	p, err := b.provider(s.Provider)
	if err != nil {
		return nil, err
	}
	opts := []agent.Option{
		agent.WithMaxIterations(s.MaxIterations),
		agent.WithMaxHistory(s.MaxHistory),
	}
	if cfg, ok := b.retryConfig(); ok {
		opts = append(opts, agent.WithRetry(cfg))
	}
	if b.limiter != nil {
		opts = append(opts, agent.WithRateLimiter(b.limiter))
	}
	if s.Timeout > 0 {
		opts = append(opts, agent.WithTimeout(s.Timeout))
	}
	return agent.NewController(p, opts...), nil
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/document"
	"github.com/jmylchreest/docsmith/pkg/llm"
	"github.com/jmylchreest/docsmith/pkg/shape"
)

// LLMConfig tunes an LLM-backed provider.
type LLMConfig struct {
	Name           string  // overrides the backend name
	Temperature    float64 // default 0.1
	MaxTokens      int     // default 16384
	MaxContentSize int     // bytes of document text sent; 0 = unlimited
	StrictMode     bool

	// Corrections is how many times a reply that fails the request shape is
	// sent back with the violations. Default 1.
	Corrections int

	Loader   document.Loader
	Observer llm.LLMObserver
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Temperature:    0.1,
		MaxTokens:      16384,
		MaxContentSize: 100000,
		Corrections:    1,
		Loader:         document.FileLoader{},
	}
}

// LLMOption configures an LLM provider.
type LLMOption func(*LLMConfig)

// WithName sets the provider name reported to strategies.
func WithName(name string) LLMOption { return func(c *LLMConfig) { c.Name = name } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption { return func(c *LLMConfig) { c.Temperature = t } }

// WithMaxTokens sets the maximum output tokens.
func WithMaxTokens(n int) LLMOption { return func(c *LLMConfig) { c.MaxTokens = n } }

// WithMaxContentSize caps the document text sent to the model.
func WithMaxContentSize(n int) LLMOption { return func(c *LLMConfig) { c.MaxContentSize = n } }

// WithStrictMode enables strict JSON schema enforcement where supported.
func WithStrictMode(strict bool) LLMOption { return func(c *LLMConfig) { c.StrictMode = strict } }

// WithCorrections sets how many shape-correction round trips are allowed.
func WithCorrections(n int) LLMOption { return func(c *LLMConfig) { c.Corrections = n } }

// WithLoader sets the document loader used when a request has no Content.
func WithLoader(l document.Loader) LLMOption { return func(c *LLMConfig) { c.Loader = l } }

// WithObserver reports every model call to obs.
func WithObserver(obs llm.LLMObserver) LLMOption { return func(c *LLMConfig) { c.Observer = obs } }

// LLM is a Provider backed by a chat model.
type LLM struct {
	backend llm.Provider
	cfg     LLMConfig
}

// NewLLM wraps a model backend as a document provider.
func NewLLM(backend llm.Provider, opts ...LLMOption) *LLM {
	cfg := DefaultLLMConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Observer != nil {
		backend = llm.Observe(backend, cfg.Observer)
	}
	return &LLM{backend: backend, cfg: cfg}
}

// Name implements Provider.
func (p *LLM) Name() string {
	if p.cfg.Name != "" {
		return p.cfg.Name
	}
	return p.backend.Name()
}

// Model returns the backend model.
func (p *LLM) Model() string { return p.backend.Model() }

// Process renders the prompt, calls the model and parses its reply. When the
// request carries a shape, replies are checked against it and sent back for
// correction up to Corrections times.
func (p *LLM) Process(ctx context.Context, req *Request) (Result, error) {
	content, err := p.content(ctx, req)
	if err != nil {
		return nil, err
	}

	var schema map[string]any
	if req.Shape != nil {
		schema = req.Shape.JSONSchema()
	}

	logger.Debug("llm provider starting",
		"provider", p.Name(),
		"model", p.Model(),
		"document", req.DocumentRef,
		"content_size", len(content))

	var lastErr error
	for attempt := 0; attempt <= p.cfg.Corrections; attempt++ {
		start := time.Now()
		resp, err := p.backend.Execute(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: SystemPrompt},
				{Role: llm.RoleUser, Content: BuildPrompt(content, req, lastErr, p.cfg.MaxContentSize)},
			},
			MaxTokens:   p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
			JSONSchema:  schema,
			StrictMode:  p.cfg.StrictMode,
		})
		if err != nil {
			return nil, err
		}
		if resp.FinishReason == "length" || resp.FinishReason == "max_tokens" {
			logger.Warn("model reply truncated", "provider", p.Name(), "max_tokens", p.cfg.MaxTokens)
		}

		res, err := ParseResult(resp.Content)
		if err != nil {
			return nil, err
		}

		violations, err := check(req.Shape, res)
		if err != nil {
			return nil, err
		}
		logger.Debug("llm provider attempt complete",
			"attempt", attempt+1,
			"duration", time.Since(start),
			"violations", len(violations))
		if len(violations) == 0 {
			return res, nil
		}
		lastErr = violationsError(violations)
		if attempt == p.cfg.Corrections {
			// Out of corrections; hand back the best effort so callers
			// (judges, voters) can still use it.
			logger.Warn("returning reply that does not match shape", "provider", p.Name(), "error", lastErr)
			return res, nil
		}
	}
	return nil, lastErr
}

func (p *LLM) content(ctx context.Context, req *Request) (string, error) {
	if req.HasContent() || req.DocumentRef == "" {
		return req.Content, nil
	}
	if p.cfg.Loader == nil {
		return "", fmt.Errorf("no loader configured for %s", req.DocumentRef)
	}
	doc, err := p.cfg.Loader.Load(ctx, req.DocumentRef)
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}
	return doc.Text, nil
}

func check(s *shape.Shape, res Result) ([]shape.Violation, error) {
	if s == nil {
		return nil, nil
	}
	return s.Check(res.Data())
}

func violationsError(vs []shape.Violation) error {
	errs := make([]error, len(vs))
	for i, v := range vs {
		errs[i] = v
	}
	return errors.Join(errs...)
}

// Package provider defines the contract every document-processing backend
// satisfies, along with the request and result types strategies pass around.
package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/docsmith/pkg/shape"
)

// ErrEmptyResult is returned when a provider reports success without data.
var ErrEmptyResult = errors.New("provider returned no result")

// Request describes one unit of work. Strategies never mutate a Request
// they were given; they derive modified copies with Clone.
type Request struct {
	DocumentRef string
	MIMEType    string

	// Content, when set, is used instead of loading DocumentRef. Strategies
	// that transform the document (chunking, redaction) pass text this way.
	Content string
	// ContentSet marks Content as the document text even when it is empty.
	ContentSet bool

	Instruction string
	Shape       *shape.Shape
	Options     map[string]any

	// Previous is the prior result under review in verification passes.
	Previous Result

	// Candidates are independent results a judge is asked to reconcile.
	Candidates []Result

	// Timeout bounds a single provider call. Zero means no limit.
	Timeout time.Duration
}

// Clone returns a copy whose maps and slices can be modified freely.
func (r *Request) Clone() *Request {
	c := *r
	c.Options = maps.Clone(r.Options)
	c.Candidates = slices.Clone(r.Candidates)
	return &c
}

// SetContent makes text the document body, so DocumentRef is never loaded
// even when text is empty.
func (r *Request) SetContent(text string) *Request {
	r.Content = text
	r.ContentSet = true
	return r
}

// HasContent reports whether r carries its document text inline.
func (r *Request) HasContent() bool { return r.ContentSet || r.Content != "" }

// Option returns Options[key], or nil.
func (r *Request) Option(key string) any {
	if r.Options == nil {
		return nil
	}
	return r.Options[key]
}

// WithOption sets an option on r, allocating the map when needed.
func (r *Request) WithOption(key string, v any) *Request {
	if r.Options == nil {
		r.Options = map[string]any{}
	}
	r.Options[key] = v
	return r
}

// Provider processes a document against an instruction.
type Provider interface {
	Process(ctx context.Context, req *Request) (Result, error)
	Name() string
}

// AsyncProvider is implemented by providers with a native asynchronous
// entry point.
type AsyncProvider interface {
	Provider
	ProcessAsync(ctx context.Context, req *Request) <-chan Outcome
}

// Outcome carries the result of an asynchronous call.
type Outcome struct {
	Result Result
	Err    error
}

// Async invokes p asynchronously, using its native entry point when present.
func Async(ctx context.Context, p Provider, req *Request) <-chan Outcome {
	if ap, ok := p.(AsyncProvider); ok {
		return ap.ProcessAsync(ctx, req)
	}
	ch := make(chan Outcome, 1)
	go func() {
		res, err := p.Process(ctx, req)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// Func adapts a function to Provider.
type Func struct {
	ID string
	Fn func(ctx context.Context, req *Request) (Result, error)
}

// Process calls f.Fn.
func (f Func) Process(ctx context.Context, req *Request) (Result, error) { return f.Fn(ctx, req) }

// Name returns f.ID.
func (f Func) Name() string { return f.ID }

// Config ranks a provider for fallback ordering.
type Config struct {
	Provider Provider `validate:"required"`
	Model    string
	Priority int     `validate:"gte=0,lte=100"`
	Cost     float64 `validate:"gte=0"`
}

// DefaultPriority is used by NewConfig.
const DefaultPriority = 50

// NewConfig returns a Config with default priority and unit cost.
func NewConfig(p Provider) Config {
	return Config{Provider: p, Priority: DefaultPriority, Cost: 1.0}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks priority and cost bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid provider config: %w", err)
	}
	return nil
}

// Name returns the provider's name, or "<nil>".
func (c Config) Name() string {
	if c.Provider == nil {
		return "<nil>"
	}
	return c.Provider.Name()
}

// Package hooks lets callers observe and adjust strategy runs: rewrite the
// instruction before a run, rewrite the result after it, or supply a
// fallback result when it fails.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/provider"
)

// Context is the per-request state shared by all hooks of one run. Hooks
// may stash values for later hooks in Values.
type Context struct {
	ID          string
	Strategy    string
	DocumentRef string
	MIMEType    string
	StartedAt   time.Time

	mu     sync.Mutex
	values map[string]any
}

// NewContext creates a hook context for req.
func NewContext(strategy string, req *provider.Request) *Context {
	return &Context{
		ID:          uuid.NewString(),
		Strategy:    strategy,
		DocumentRef: req.DocumentRef,
		MIMEType:    req.MIMEType,
		StartedAt:   time.Now(),
	}
}

// Set stores a value for later hooks.
func (c *Context) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]any{}
	}
	c.values[key] = v
}

// Get returns a stored value.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Elapsed returns the time since the run started.
func (c *Context) Elapsed() time.Duration { return time.Since(c.StartedAt) }

// PreProcess may rewrite the instruction. Returning "" leaves it unchanged.
type PreProcess func(ctx context.Context, hc *Context, instruction string) (string, error)

// PostProcess may rewrite the result. Returning nil leaves it unchanged.
type PostProcess func(ctx context.Context, hc *Context, result provider.Result) (provider.Result, error)

// OnError may recover a failed run. A non-nil result becomes the run's
// result and the error is dropped.
type OnError func(ctx context.Context, hc *Context, err error) (provider.Result, error)

// Set is a group of hooks. The zero value is an empty, usable set.
type Set struct {
	Pre   []PreProcess
	Post  []PostProcess
	Error []OnError
}

// Empty reports whether s has no hooks.
func (s *Set) Empty() bool {
	return s == nil || len(s.Pre)+len(s.Post)+len(s.Error) == 0
}

// RunPre chains pre hooks; each non-empty return replaces the instruction
// seen by the next hook.
func (s *Set) RunPre(ctx context.Context, hc *Context, instruction string) string {
	if s == nil {
		return instruction
	}
	for i, h := range s.Pre {
		out, err := safe(hc, "pre", i, func() (string, error) { return h(ctx, hc, instruction) })
		if err == nil && out != "" {
			instruction = out
		}
	}
	return instruction
}

// RunPost chains post hooks; each non-nil return replaces the result.
func (s *Set) RunPost(ctx context.Context, hc *Context, result provider.Result) provider.Result {
	if s == nil {
		return result
	}
	for i, h := range s.Post {
		out, err := safe(hc, "post", i, func() (provider.Result, error) { return h(ctx, hc, result) })
		if err == nil && out != nil {
			result = out
		}
	}
	return result
}

// RunError returns the first non-nil fallback result, or nil.
func (s *Set) RunError(ctx context.Context, hc *Context, runErr error) provider.Result {
	if s == nil {
		return nil
	}
	for i, h := range s.Error {
		out, err := safe(hc, "error", i, func() (provider.Result, error) { return h(ctx, hc, runErr) })
		if err == nil && out != nil {
			return out
		}
	}
	return nil
}

// safe runs a hook, turning panics into errors. Hook failures are logged
// and never reach the caller.
func safe[T any](hc *Context, kind string, idx int, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
		if err != nil {
			logger.Warn("hook failed",
				"kind", kind,
				"index", idx,
				"strategy", hc.Strategy,
				"request_id", hc.ID,
				"error", err)
		}
	}()
	return fn()
}

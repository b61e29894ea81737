package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/docsmith/pkg/hooks"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/ratelimit"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// mockProvider records every request and answers through fn. call is
// 1-based.
type mockProvider struct {
	name string
	fn   func(call int, req *provider.Request) (provider.Result, error)

	mu   sync.Mutex
	reqs []*provider.Request
}

func newMock(name string, fn func(call int, req *provider.Request) (provider.Result, error)) *mockProvider {
	return &mockProvider{name: name, fn: fn}
}

// returns always answers with res.
func returns(name string, res provider.Result) *mockProvider {
	return newMock(name, func(int, *provider.Request) (provider.Result, error) { return res.Clone(), nil })
}

// fails always answers with err.
func fails(name string, err error) *mockProvider {
	return newMock(name, func(int, *provider.Request) (provider.Result, error) { return nil, err })
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Process(_ context.Context, req *provider.Request) (provider.Result, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	call := len(m.reqs)
	m.mu.Unlock()
	return m.fn(call, req)
}

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func (m *mockProvider) Requests() []*provider.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*provider.Request(nil), m.reqs...)
}

func textRequest(text string) *provider.Request {
	return &provider.Request{DocumentRef: "doc.txt", Content: text, Instruction: "extract"}
}

var fastRetry = retry.Config{MaxRetries: 2}

func TestStrategiesImplementInterface(t *testing.T) {
	p := returns("p", provider.Result{})
	var _ Strategy = NewSimple(p)
	var _ Strategy = NewVerified(p, 1)
	var _ Strategy = NewSequential(p, 2)
	var _ Strategy = NewPrivacy(p, nil)
	var _ Strategy = NewActiveLearning(p, 3, 0.8)
	var _ Strategy = NewBatch(p, 2)
	var _ Strategy = &Fallback{}
	var _ Strategy = &Router{}
	var _ Strategy = &Ensemble{}
}

func TestSimple_RetriesThenSucceeds(t *testing.T) {
	p := newMock("flaky", func(call int, _ *provider.Request) (provider.Result, error) {
		if call < 3 {
			return nil, errors.New("transient")
		}
		return provider.Result{"total": 42}, nil
	})

	res, err := NewSimple(p, WithRetry(fastRetry)).Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, provider.Result{"total": 42}, res)
	assert.Equal(t, 3, p.Calls())
}

func TestSimple_ExhaustedRetriesReturnTypedError(t *testing.T) {
	cause := errors.New("boom")
	p := fails("broken", cause)

	_, err := NewSimple(p, WithRetry(fastRetry)).Process(context.Background(), textRequest("x"))
	require.Error(t, err)
	assert.Equal(t, 3, p.Calls())
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorIs(t, err, cause)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "simple", se.Strategy)
	assert.Equal(t, "broken", se.Provider)
	assert.Contains(t, err.Error(), "strategy simple: provider broken")
}

func TestSimple_NilResultIsFailure(t *testing.T) {
	p := returns("nil", nil)

	_, err := NewSimple(p, WithRetry(retry.None)).Process(context.Background(), textRequest("x"))
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorIs(t, err, provider.ErrEmptyResult)
}

func TestSimple_TimeoutIsProviderFailure(t *testing.T) {
	slow := provider.Func{ID: "slow", Fn: func(ctx context.Context, _ *provider.Request) (provider.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return provider.Result{"late": true}, nil
		}
	}}

	_, err := NewSimple(slow, WithRetry(retry.None), WithTimeout(5*time.Millisecond)).
		Process(context.Background(), textRequest("x"))
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimple_RequestTimeoutOverridesOption(t *testing.T) {
	var got time.Duration
	p := provider.Func{ID: "p", Fn: func(ctx context.Context, _ *provider.Request) (provider.Result, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		got = time.Until(deadline)
		return provider.Result{"ok": true}, nil
	}}
	req := textRequest("x")
	req.Timeout = time.Minute

	_, err := NewSimple(p, WithTimeout(time.Millisecond)).Process(context.Background(), req)
	require.NoError(t, err)
	assert.Greater(t, got, 30*time.Second)
}

func TestSimple_RateLimiterSpacesCalls(t *testing.T) {
	p := returns("p", provider.Result{"ok": true})
	s := NewSimple(p, WithRetry(retry.None), WithRateLimiter(ratelimit.New(20*time.Millisecond)))

	start := time.Now()
	for range 3 {
		_, err := s.Process(context.Background(), textRequest("x"))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestSimple_ProcessAsync(t *testing.T) {
	p := returns("p", provider.Result{"a": 1})

	out := <-NewSimple(p).ProcessAsync(context.Background(), textRequest("x"))
	require.NoError(t, out.Err)
	assert.Equal(t, provider.Result{"a": 1}, out.Result)
}

func TestHooks_PreAndPostApply(t *testing.T) {
	p := newMock("p", func(_ int, req *provider.Request) (provider.Result, error) {
		return provider.Result{"instruction": req.Instruction}, nil
	})
	set := &hooks.Set{
		Pre: []hooks.PreProcess{
			func(_ context.Context, hc *hooks.Context, in string) (string, error) {
				hc.Set("seen", true)
				return in + " carefully", nil
			},
		},
		Post: []hooks.PostProcess{
			func(_ context.Context, hc *hooks.Context, r provider.Result) (provider.Result, error) {
				out := r.Clone()
				seen, _ := hc.Get("seen")
				out.SetMeta("_seen", seen)
				out.SetMeta("_strategy", hc.Strategy)
				return out, nil
			},
		},
	}

	req := textRequest("x")
	res, err := NewSimple(p, WithHooks(set)).Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "extract carefully", res["instruction"])
	assert.Equal(t, true, res["_seen"])
	assert.Equal(t, "simple", res["_strategy"])
	assert.Equal(t, "extract", req.Instruction, "caller's request must not change")
}

func TestHooks_ErrorHookSuppliesFallback(t *testing.T) {
	p := fails("p", errors.New("down"))
	var got error
	set := &hooks.Set{Error: []hooks.OnError{
		func(_ context.Context, _ *hooks.Context, err error) (provider.Result, error) {
			got = err
			return provider.Result{"fallback": true}, nil
		},
	}}

	res, err := NewSimple(p, WithRetry(retry.None), WithHooks(set)).Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, provider.Result{"fallback": true}, res)
	assert.ErrorIs(t, got, ErrProviderFailure)
}

func TestHooks_PanicsDoNotBreakProcessing(t *testing.T) {
	p := returns("p", provider.Result{"a": 1})
	set := &hooks.Set{Post: []hooks.PostProcess{
		func(context.Context, *hooks.Context, provider.Result) (provider.Result, error) { panic("hook bug") },
	}}

	res, err := NewSimple(p, WithHooks(set)).Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, provider.Result{"a": 1}, res)
}

func TestHooks_DispatcherRegistrationClosedWithStrategy(t *testing.T) {
	d := hooks.NewDispatcher()
	calls := 0
	set := &hooks.Set{Post: []hooks.PostProcess{
		func(context.Context, *hooks.Context, provider.Result) (provider.Result, error) {
			calls++
			return nil, nil
		},
	}}

	s := NewSimple(returns("p", provider.Result{"a": 1}), WithHooks(set), WithDispatcher(d))
	assert.Equal(t, 1, d.Len())

	_, err := s.Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	require.NoError(t, s.Close())
	assert.Equal(t, 0, d.Len())
	require.NoError(t, s.Close(), "close is idempotent")
}

func TestError_Message(t *testing.T) {
	cause := errors.New("rate limited")
	err := &Error{Strategy: "fallback", Provider: "openai", Err: fmt.Errorf("%w: %w", ErrProviderFailure, cause)}

	assert.Equal(t, "strategy fallback: provider openai: provider failure: rate limited", err.Error())
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "strategy router", (&Error{Strategy: "router"}).Error())
}

package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/docsmith/pkg/provider"
)

func newHC() *Context {
	return NewContext("simple", &provider.Request{DocumentRef: "a.txt", MIMEType: "text/plain"})
}

// --- Context Tests ---

func TestNewContext(t *testing.T) {
	hc := newHC()
	assert.NotEmpty(t, hc.ID)
	assert.Equal(t, "a.txt", hc.DocumentRef)

	hc.Set("k", 1)
	v, ok := hc.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

// --- Set Tests ---

func TestRunPre_ChainsAndLastWins(t *testing.T) {
	var seen []string
	s := &Set{Pre: []PreProcess{
		func(_ context.Context, _ *Context, in string) (string, error) { seen = append(seen, in); return in + " A", nil },
		func(_ context.Context, _ *Context, in string) (string, error) { seen = append(seen, in); return "", nil },
		func(_ context.Context, _ *Context, in string) (string, error) { seen = append(seen, in); return in + " C", nil },
	}}

	got := s.RunPre(context.Background(), newHC(), "base")
	assert.Equal(t, "base A C", got)
	assert.Equal(t, []string{"base", "base A", "base A"}, seen)
}

func TestRunPre_FailuresAreIsolated(t *testing.T) {
	s := &Set{Pre: []PreProcess{
		func(context.Context, *Context, string) (string, error) { panic("bad hook") },
		func(context.Context, *Context, string) (string, error) { return "ignored", errors.New("failed") },
		func(_ context.Context, _ *Context, in string) (string, error) { return in + "!", nil },
	}}
	assert.Equal(t, "x!", s.RunPre(context.Background(), newHC(), "x"))
}

func TestRunPost_NilLeavesUnchanged(t *testing.T) {
	s := &Set{Post: []PostProcess{
		func(_ context.Context, _ *Context, r provider.Result) (provider.Result, error) {
			out := r.Clone()
			out["post"] = 1
			return out, nil
		},
		func(context.Context, *Context, provider.Result) (provider.Result, error) { return nil, nil },
	}}
	got := s.RunPost(context.Background(), newHC(), provider.Result{"a": 1})
	assert.Equal(t, provider.Result{"a": 1, "post": 1}, got)
}

func TestRunError_FirstFallbackWins(t *testing.T) {
	var calls int
	s := &Set{Error: []OnError{
		func(context.Context, *Context, error) (provider.Result, error) { calls++; return nil, nil },
		func(context.Context, *Context, error) (provider.Result, error) { calls++; return provider.Result{"fallback": 1}, nil },
		func(context.Context, *Context, error) (provider.Result, error) { calls++; return provider.Result{"fallback": 2}, nil },
	}}
	got := s.RunError(context.Background(), newHC(), errors.New("boom"))
	assert.Equal(t, provider.Result{"fallback": 1}, got)
	assert.Equal(t, 2, calls)
}

func TestNilSet(t *testing.T) {
	var s *Set
	assert.True(t, s.Empty())
	assert.Equal(t, "x", s.RunPre(context.Background(), newHC(), "x"))
	assert.Nil(t, s.RunError(context.Background(), newHC(), errors.New("e")))
}

// --- Dispatcher Tests ---

func TestDispatcher_RegisterAndClose(t *testing.T) {
	d := NewDispatcher()
	suffix := func(s string) *Set {
		return &Set{Pre: []PreProcess{func(_ context.Context, _ *Context, in string) (string, error) { return in + s, nil }}}
	}

	r1 := d.Register(suffix("1"))
	r2 := d.Register(suffix("2"))
	require.Equal(t, 2, d.Len())
	assert.Equal(t, "x12", d.RunPre(context.Background(), newHC(), "x"))

	require.NoError(t, r1.Close())
	require.NoError(t, r1.Close())
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, "x2", d.RunPre(context.Background(), newHC(), "x"))

	require.NoError(t, r2.Close())
	assert.Equal(t, 0, d.Len())
}

func TestAttach(t *testing.T) {
	set := &Set{Pre: []PreProcess{
		func(_ context.Context, _ *Context, in string) (string, error) { return in + "!", nil },
	}}

	r, reg := Attach(nil, nil)
	assert.Nil(t, reg)
	assert.Equal(t, "x", r.RunPre(context.Background(), newHC(), "x"))

	r, reg = Attach(set, nil)
	assert.Nil(t, reg)
	assert.Equal(t, "x!", r.RunPre(context.Background(), newHC(), "x"))

	d := NewDispatcher()
	r, reg = Attach(nil, d)
	assert.Nil(t, reg, "nothing to register")
	assert.Equal(t, 0, d.Len())

	r, reg = Attach(set, d)
	require.NotNil(t, reg)
	assert.Equal(t, "x!", r.RunPre(context.Background(), newHC(), "x"))
	require.NoError(t, reg.Close())
	assert.Equal(t, "x", r.RunPre(context.Background(), newHC(), "x"))
}

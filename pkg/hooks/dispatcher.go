package hooks

import (
	"context"
	"sync"

	"github.com/jmylchreest/docsmith/pkg/provider"
)

// Dispatcher is a shared hook registry. Every registered set takes part in
// every run that goes through the dispatcher, in registration order.
type Dispatcher struct {
	mu   sync.RWMutex
	next uint64
	sets []entry
}

type entry struct {
	id  uint64
	set *Set
}

// Registration is the handle returned by Register.
type Registration struct {
	d    *Dispatcher
	id   uint64
	once sync.Once
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Register adds s. Call Close on the returned handle to remove it.
func (d *Dispatcher) Register(s *Set) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.sets = append(d.sets, entry{id: d.next, set: s})
	return &Registration{d: d, id: d.next}
}

// Close unregisters the set. It is safe to call more than once.
func (r *Registration) Close() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		r.d.mu.Lock()
		defer r.d.mu.Unlock()
		for i, e := range r.d.sets {
			if e.id == r.id {
				r.d.sets = append(r.d.sets[:i:i], r.d.sets[i+1:]...)
				break
			}
		}
	})
	return nil
}

// Len returns the number of registered sets.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sets)
}

// merged flattens the registered sets into one, preserving order.
func (d *Dispatcher) merged() *Set {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := &Set{}
	for _, e := range d.sets {
		out.Pre = append(out.Pre, e.set.Pre...)
		out.Post = append(out.Post, e.set.Post...)
		out.Error = append(out.Error, e.set.Error...)
	}
	return out
}

// RunPre runs all registered pre hooks.
func (d *Dispatcher) RunPre(ctx context.Context, hc *Context, instruction string) string {
	return d.merged().RunPre(ctx, hc, instruction)
}

// RunPost runs all registered post hooks.
func (d *Dispatcher) RunPost(ctx context.Context, hc *Context, result provider.Result) provider.Result {
	return d.merged().RunPost(ctx, hc, result)
}

// RunError returns the first fallback from any registered error hook.
func (d *Dispatcher) RunError(ctx context.Context, hc *Context, err error) provider.Result {
	return d.merged().RunError(ctx, hc, err)
}

// Runner runs hooks around one strategy call. Both *Set and *Dispatcher
// implement it.
type Runner interface {
	RunPre(ctx context.Context, hc *Context, instruction string) string
	RunPost(ctx context.Context, hc *Context, result provider.Result) provider.Result
	RunError(ctx context.Context, hc *Context, err error) provider.Result
}

// Attach picks the runner for a component configured with s and d. With a
// dispatcher, a non-empty s is registered on it and the caller owns the
// returned Registration. Without one the registration is nil.
func Attach(s *Set, d *Dispatcher) (Runner, *Registration) {
	switch {
	case d != nil:
		var reg *Registration
		if !s.Empty() {
			reg = d.Register(s)
		}
		return d, reg
	case s != nil:
		return s, nil
	default:
		return (*Set)(nil), nil
	}
}

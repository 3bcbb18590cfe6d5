// Package lifecycle provides lifetime tokens that subscriptions and bindings are tied to.
//
// A Scope stands for the lifetime of a consumer such as a view. Everything
// registered against it with OnEnd is released when the scope ends, whether End is
// called explicitly or the parent context is cancelled.
package lifecycle

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Lifetime is the view of a Scope needed by components that tie resources to it.
type Lifetime interface {
	// Done is closed once the lifetime has ended.
	Done() <-chan struct{}
	// OnEnd registers fn to run when the lifetime ends. If it already ended, fn runs
	// immediately on the calling goroutine. The returned func unregisters fn.
	OnEnd(fn func()) (remove func())
}

// Scope is a Lifetime that ends exactly once.
type Scope struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	ended bool
	next  uint64
	hooks map[uint64]func() // keyed by registration order

	stopParent func() bool
}

// NewScope creates a scope that also ends when parent is cancelled.
func NewScope(parent context.Context, name string) *Scope {
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		hooks:  make(map[uint64]func()),
	}
	s.stopParent = context.AfterFunc(parent, s.End)
	return s
}

func (s *Scope) Name() string {
	return s.name
}

// Context returns a context cancelled when the scope ends.
func (s *Scope) Context() context.Context {
	return s.ctx
}

func (s *Scope) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Ended reports whether End has run.
func (s *Scope) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Scope) OnEnd(fn func()) (remove func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	id := s.next
	s.next++
	s.hooks[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.ended {
			delete(s.hooks, id)
		}
	}
}

// End ends the scope. Registered hooks run synchronously, most recent first, and
// End returns only after all of them completed. Later calls are no-ops.
func (s *Scope) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	ids := slices.Sorted(maps.Keys(s.hooks))
	hooks := make([]func(), 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		hooks = append(hooks, s.hooks[ids[i]])
	}
	s.hooks = nil
	s.mu.Unlock()

	s.cancel()
	for _, fn := range hooks {
		fn()
	}
	if s.stopParent != nil {
		s.stopParent()
	}
}

var _ Lifetime = (*Scope)(nil)

// Package observable fans a stream of values out to scoped observers.
//
// A Channel remembers the latest published value and replays it to every new
// observer before any later update, so an observer never misses the current state.
// Observers are bound to a lifecycle.Lifetime and are removed when it ends.
package observable

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benmeehan/greta-tracker/internal/lifecycle"
	"github.com/benmeehan/greta-tracker/internal/metrics"
)

var (
	ErrScopeEnded  = errors.New("scope has already ended")
	ErrNilObserver = errors.New("observer is nil")
)

// Observer receives values published on a Channel.
type Observer[T any] func(T)

// Channel delivers values to attached observers in attachment order.
type Channel[T any] struct {
	name string

	// delivery serializes publishes and attach replays so that no observer
	// receives a value older than one it has already seen.
	delivery sync.Mutex

	mu        sync.RWMutex
	subs      []*Subscription[T]
	latest    T
	hasLatest bool
}

// NewChannel creates an empty channel. The name labels its metrics.
func NewChannel[T any](name string) *Channel[T] {
	return &Channel[T]{name: name}
}

func (c *Channel[T]) Name() string {
	return c.name
}

// Attach registers observer for the lifetime of scope. The latest value, if any,
// is delivered before Attach returns.
func (c *Channel[T]) Attach(scope lifecycle.Lifetime, observer Observer[T]) (*Subscription[T], error) {
	if observer == nil {
		return nil, ErrNilObserver
	}
	select {
	case <-scope.Done():
		return nil, ErrScopeEnded
	default:
	}

	sub := &Subscription[T]{channel: c, observer: observer}
	sub.active.Store(true)

	c.delivery.Lock()
	defer c.delivery.Unlock()

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	latest, hasLatest := c.latest, c.hasLatest
	c.mu.Unlock()
	metrics.ActiveSubscriptions.WithLabelValues(c.name).Inc()

	remove := scope.OnEnd(func() { sub.Detach() })
	sub.mu.Lock()
	if !sub.active.Load() {
		// The scope ended while we were registering.
		sub.mu.Unlock()
		return nil, ErrScopeEnded
	}
	sub.removeHook = remove
	sub.mu.Unlock()

	if hasLatest {
		sub.deliver(latest)
	}
	return sub, nil
}

// Publish records v as the latest value and delivers it to every attached observer
// before returning.
func (c *Channel[T]) Publish(v T) {
	c.delivery.Lock()
	defer c.delivery.Unlock()

	c.mu.Lock()
	c.latest = v
	c.hasLatest = true
	subs := append([]*Subscription[T](nil), c.subs...)
	c.mu.Unlock()

	metrics.ChannelPublishes.WithLabelValues(c.name).Inc()
	for _, sub := range subs {
		sub.deliver(v)
	}
}

// Latest returns the most recently published value.
func (c *Channel[T]) Latest() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.hasLatest
}

// Len returns the number of attached observers.
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

func (c *Channel[T]) remove(sub *Subscription[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.subs[:0]
	for _, s := range c.subs {
		if s != sub {
			out = append(out, s)
		}
	}
	// Clear the tail so removed subscriptions can be collected.
	for i := len(out); i < len(c.subs); i++ {
		c.subs[i] = nil
	}
	c.subs = out
	metrics.ActiveSubscriptions.WithLabelValues(c.name).Dec()
}

// Subscription is one observer's attachment to a Channel.
type Subscription[T any] struct {
	channel  *Channel[T]
	observer Observer[T]

	// mu is held while the observer runs, so Detach waits for an in-flight
	// delivery and nothing is delivered after Detach returns. An observer must
	// therefore not detach itself (or end its scope) synchronously.
	mu         sync.Mutex
	active     atomic.Bool
	removeHook func()
}

func (s *Subscription[T]) deliver(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		s.observer(v)
	}
}

// Detach removes the subscription. It returns true for the call that removed it
// and false if it was already detached.
func (s *Subscription[T]) Detach() bool {
	s.mu.Lock()
	if !s.active.Load() {
		s.mu.Unlock()
		return false
	}
	s.active.Store(false)
	remove := s.removeHook
	s.removeHook = nil
	s.mu.Unlock()

	s.channel.remove(s)
	if remove != nil {
		remove()
	}
	return true
}

// Active reports whether the subscription still receives values.
func (s *Subscription[T]) Active() bool {
	return s.active.Load()
}

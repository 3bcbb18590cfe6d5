// Package binding connects scoped consumers to a long-lived producer.
//
// A Host owns the producer. Consumers Bind with their scope and receive a Handle
// asynchronously once the producer is running. A Handle stops working when the
// consumer unbinds, its scope ends, or the producer dies, so a dead producer can
// never be reached through a stale reference.
package binding

import (
	"errors"
	"sync"

	"github.com/benmeehan/greta-tracker/internal/lifecycle"
	"github.com/benmeehan/greta-tracker/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyBound = errors.New("scope is already bound")
	ErrNotBound     = errors.New("scope is not bound")
	ErrDisconnected = errors.New("producer is disconnected")
	ErrScopeEnded   = errors.New("scope has already ended")
)

// State is the binding state of a Connection.
type State int

const (
	Unbound State = iota
	Binding
	Bound
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	default:
		return "unknown"
	}
}

// Handle gives access to the producer while the binding is alive.
type Handle[P any] struct {
	producer P
	done     chan struct{}
	once     sync.Once
}

func newHandle[P any](producer P) *Handle[P] {
	return &Handle[P]{producer: producer, done: make(chan struct{})}
}

// Do runs fn with the producer, or returns ErrDisconnected if the handle is dead.
func (h *Handle[P]) Do(fn func(P)) error {
	select {
	case <-h.done:
		return ErrDisconnected
	default:
	}
	fn(h.producer)
	return nil
}

// Done is closed when the handle stops being usable.
func (h *Handle[P]) Done() <-chan struct{} {
	return h.done
}

func (h *Handle[P]) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle[P]) invalidate() {
	h.once.Do(func() { close(h.done) })
}

// Connection is one scope's binding to the Host.
type Connection[P any] struct {
	host     *Host[P]
	scope    lifecycle.Lifetime
	handleCh chan *Handle[P]

	// Guarded by host.mu.
	state      State
	handle     *Handle[P]
	removeHook func()
}

// Handle delivers the producer handle once it is available. The channel is closed
// without a value if the bind is cancelled before the producer started.
func (c *Connection[P]) Handle() <-chan *Handle[P] {
	return c.handleCh
}

func (c *Connection[P]) State() State {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()
	return c.state
}

// Host owns the producer and the connections bound to it.
type Host[P any] struct {
	name   string
	logger zerolog.Logger

	mu       sync.Mutex
	producer P
	running  bool
	conns    map[lifecycle.Lifetime]*Connection[P]
}

// NewHost creates a host with no running producer.
func NewHost[P any](name string, logger zerolog.Logger) *Host[P] {
	return &Host[P]{
		name:   name,
		logger: logger.With().Str("host", name).Logger(),
		conns:  make(map[lifecycle.Lifetime]*Connection[P]),
	}
}

// Start makes p available and resolves every pending bind.
func (h *Host[P]) Start(p P) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.logger.Warn().Msg("Producer is already running")
		return
	}
	h.producer = p
	h.running = true

	pending := 0
	for _, conn := range h.conns {
		if conn.state == Binding {
			h.resolveLocked(conn)
			pending++
		}
	}
	h.logger.Info().Int("resolved_binds", pending).Msg("Producer started")
}

// Kill marks the producer as dead. Bound connections drop to Unbound and their
// handles are invalidated; pending binds stay pending until the next Start.
func (h *Host[P]) Kill() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	var zero P
	h.producer = zero
	h.running = false

	for _, conn := range h.conns {
		if conn.state == Bound {
			conn.handle.invalidate()
			conn.handle = nil
			h.transitionLocked(conn, Unbound)
		}
	}
	h.logger.Warn().Msg("Producer died, bound connections dropped")
}

// Running reports whether the producer is available.
func (h *Host[P]) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Bind requests a handle for scope. One bind per active scope is allowed; a scope
// whose previous binding was dropped by a producer death may bind again.
func (h *Host[P]) Bind(scope lifecycle.Lifetime) (*Connection[P], error) {
	select {
	case <-scope.Done():
		return nil, ErrScopeEnded
	default:
	}

	h.mu.Lock()
	var staleHook func()
	if prev, ok := h.conns[scope]; ok {
		if prev.state != Unbound {
			h.mu.Unlock()
			return nil, ErrAlreadyBound
		}
		staleHook = prev.removeHook
		delete(h.conns, scope)
	}
	conn := &Connection[P]{
		host:     h,
		scope:    scope,
		handleCh: make(chan *Handle[P], 1),
	}
	h.conns[scope] = conn
	h.transitionLocked(conn, Binding)
	h.mu.Unlock()

	if staleHook != nil {
		staleHook()
	}

	remove := scope.OnEnd(func() { h.release(conn, true) })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[scope] != conn {
		// The scope ended while registering.
		return nil, ErrScopeEnded
	}
	conn.removeHook = remove
	if h.running && conn.state == Binding {
		h.resolveLocked(conn)
	}
	return conn, nil
}

// Unbind releases the binding of scope. Unbinding a pending bind cancels it.
func (h *Host[P]) Unbind(scope lifecycle.Lifetime) error {
	h.mu.Lock()
	conn, ok := h.conns[scope]
	h.mu.Unlock()
	if !ok {
		return ErrNotBound
	}
	h.release(conn, false)
	return nil
}

func (h *Host[P]) release(conn *Connection[P], scopeEnded bool) {
	h.mu.Lock()
	if h.conns[conn.scope] != conn {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.scope)

	prev := conn.state
	switch prev {
	case Binding:
		close(conn.handleCh)
	case Bound:
		conn.handle.invalidate()
		conn.handle = nil
	}
	if prev != Unbound {
		h.transitionLocked(conn, Unbound)
	}
	remove := conn.removeHook
	conn.removeHook = nil
	h.mu.Unlock()

	if scopeEnded {
		if prev == Bound {
			h.logger.Warn().Msg("Scope ended while still bound, connection released")
		}
		return
	}
	if remove != nil {
		remove()
	}
}

func (h *Host[P]) resolveLocked(conn *Connection[P]) {
	handle := newHandle(h.producer)
	conn.handle = handle
	h.transitionLocked(conn, Bound)
	conn.handleCh <- handle
	close(conn.handleCh)
}

func (h *Host[P]) transitionLocked(conn *Connection[P], to State) {
	from := conn.state
	conn.state = to
	metrics.BindingTransitions.WithLabelValues(from.String(), to.String()).Inc()
	h.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Binding state changed")
}

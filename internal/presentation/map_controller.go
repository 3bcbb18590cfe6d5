package presentation

import (
	"context"
	"errors"
	"sync"

	"github.com/benmeehan/greta-tracker/internal/binding"
	"github.com/benmeehan/greta-tracker/internal/lifecycle"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/internal/observable"
	"github.com/benmeehan/greta-tracker/internal/services"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyResumed = errors.New("map controller is already resumed")
	ErrNotResumed     = errors.New("map controller is not resumed")
)

// MapController connects a MapView to the tracking service while the map is on
// screen. Resume binds to the service and follows the recorded track; Pause
// releases everything that Resume acquired.
//
// When the tracking service dies the controller detaches from it and binds again,
// picking up the new service once it is started.
type MapController struct {
	host     *binding.Host[*services.TrackingService]
	view     *MapView
	presence *observable.Channel[models.PresenceSnapshot]
	logger   zerolog.Logger

	mu      sync.Mutex
	scope   *lifecycle.Scope
	wg      sync.WaitGroup
	current *session
}

// session is the state of one bound connection.
type session struct {
	handle     *binding.Handle[*services.TrackingService]
	listenerID services.ListenerID
	details    *observable.Subscription[models.TrackDetails]
	// release removes the track listener and its scope hook.
	release func()
}

// NewMapController creates a controller. presence may be nil when presence sharing
// is disabled.
func NewMapController(host *binding.Host[*services.TrackingService], view *MapView,
	presence *observable.Channel[models.PresenceSnapshot], logger zerolog.Logger) *MapController {
	return &MapController{
		host:     host,
		view:     view,
		presence: presence,
		logger:   logger,
	}
}

// Resume starts following the tracking service. The view stays attached until
// Pause is called or ctx is cancelled.
func (c *MapController) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scope != nil && !c.scope.Ended() {
		return ErrAlreadyResumed
	}
	scope := lifecycle.NewScope(ctx, "map")
	c.current = nil

	if c.presence != nil {
		if _, err := c.presence.Attach(scope, c.view.ShowPresence); err != nil {
			scope.End()
			return err
		}
	}

	conn, err := c.host.Bind(scope)
	if err != nil {
		scope.End()
		return err
	}
	c.scope = scope

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.follow(scope, conn)
	}()

	c.logger.Info().Msg("Map resumed")
	return nil
}

// Pause stops following the tracking service and unbinds from it.
func (c *MapController) Pause() error {
	c.mu.Lock()
	scope := c.scope
	c.scope = nil
	current := c.current
	c.current = nil
	c.mu.Unlock()

	if scope == nil {
		return ErrNotResumed
	}

	if current != nil {
		c.mu.Lock()
		listenerID := current.listenerID
		c.mu.Unlock()

		// A dead handle means the listener went away with the service.
		_ = current.handle.Do(func(svc *services.TrackingService) {
			svc.RemoveTrackListener(listenerID)
		})
		if current.details != nil {
			current.details.Detach()
		}
	}

	err := c.host.Unbind(scope)
	if errors.Is(err, binding.ErrNotBound) {
		err = nil
	}
	scope.End()
	c.wg.Wait()

	c.logger.Info().Msg("Map paused")
	return err
}

// follow waits for the service handle, attaches the view, and rebinds after the
// service dies. It returns when scope ends.
func (c *MapController) follow(scope *lifecycle.Scope, conn *binding.Connection[*services.TrackingService]) {
	for {
		handle, ok := <-conn.Handle()
		if !ok {
			return
		}
		c.connected(scope, handle)

		select {
		case <-scope.Done():
			return
		case <-handle.Done():
		}

		c.disconnected(handle)

		var err error
		conn, err = c.host.Bind(scope)
		if err != nil {
			if !errors.Is(err, binding.ErrScopeEnded) {
				c.logger.Error().Err(err).Msg("Failed to rebind tracking service")
			}
			return
		}
	}
}

func (c *MapController) connected(scope *lifecycle.Scope, handle *binding.Handle[*services.TrackingService]) {
	s := &session{handle: handle}

	c.mu.Lock()
	if c.scope != scope {
		c.mu.Unlock()
		return
	}
	c.current = s
	c.mu.Unlock()

	err := handle.Do(func(svc *services.TrackingService) {
		listener := services.TrackListenerFunc(func(t models.Track) {
			c.trackReady(scope, s, svc, t)
		})
		id := svc.AddTrackListener(listener)
		unhook := scope.OnEnd(func() { svc.RemoveTrackListener(id) })

		c.mu.Lock()
		s.listenerID = id
		s.release = func() {
			unhook()
			svc.RemoveTrackListener(id)
		}
		stale := c.current != s
		c.mu.Unlock()
		// Paused while registering.
		if stale {
			svc.RemoveTrackListener(id)
		}
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Tracking service went away while connecting")
		return
	}
	c.logger.Info().Msg("Connected to tracking service")
}

// trackReady attaches the view to the service's track details. The details
// channel carries every session, so one attachment per connection is enough.
func (c *MapController) trackReady(scope *lifecycle.Scope, s *session, svc *services.TrackingService, t models.Track) {
	c.logger.Info().Str("track_id", t.ID).Msg("Track ready")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != s || s.details != nil {
		return
	}
	sub, err := svc.Details().Attach(scope, c.view.ShowTrack)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to observe track details")
		return
	}
	s.details = sub
}

func (c *MapController) disconnected(handle *binding.Handle[*services.TrackingService]) {
	c.mu.Lock()
	s := c.current
	if s == nil || s.handle != handle {
		c.mu.Unlock()
		return
	}
	c.current = nil
	release, details := s.release, s.details
	c.mu.Unlock()

	if release != nil {
		release()
	}
	if details != nil {
		details.Detach()
	}
	c.logger.Warn().Msg("Tracking service disconnected")
}

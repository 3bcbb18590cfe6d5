package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/greta-tracker/internal/archive"
	"github.com/benmeehan/greta-tracker/internal/metrics"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/internal/observable"
	"github.com/benmeehan/greta-tracker/internal/track"
	"github.com/benmeehan/greta-tracker/pkg/location"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidFix      = errors.New("fix coordinates are out of range")
	ErrNoActiveSession = errors.New("no track session is being recorded")
)

const errorBufferSize = 16

// TrackListener is notified once per session, when its first waypoint is recorded.
type TrackListener interface {
	OnTrackReady(t models.Track)
}

// TrackListenerFunc adapts a function to TrackListener.
type TrackListenerFunc func(models.Track)

func (f TrackListenerFunc) OnTrackReady(t models.Track) { f(t) }

// ListenerID identifies a registered TrackListener.
type ListenerID uint64

// TrackingService acquires positioning fixes in the background and records them
// into the active track session.
type TrackingService struct {
	// Configuration fields
	interval time.Duration

	// Dependencies
	provider location.Provider
	archive  archive.Archive
	clock    clockwork.Clock
	logger   zerolog.Logger

	details *observable.Channel[models.TrackDetails]
	errs    chan error

	// recordMu serializes append and the notifications that follow it.
	recordMu sync.Mutex
	session  atomic.Pointer[track.Session]

	listenersMu  sync.Mutex
	listeners    map[ListenerID]TrackListener
	listenerKeys []ListenerID
	nextListener ListenerID

	// Internal state management
	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewTrackingService creates a TrackingService. A nil archive discards finalized tracks.
func NewTrackingService(interval time.Duration, provider location.Provider, store archive.Archive,
	clock clockwork.Clock, logger zerolog.Logger) *TrackingService {
	return &TrackingService{
		interval:  interval,
		provider:  provider,
		archive:   store,
		clock:     clock,
		logger:    logger,
		details:   observable.NewChannel[models.TrackDetails]("track_details"),
		errs:      make(chan error, errorBufferSize),
		listeners: make(map[ListenerID]TrackListener),
	}
}

// Start begins periodic fix acquisition.
func (s *TrackingService) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		s.logger.Warn().Msg("TrackingService is already running")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	ticker := s.clock.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.Chan():
				s.acquire(s.ctx)
			case <-s.ctx.Done():
				s.logger.Info().Msg("TrackingService is stopping")
				return
			}
		}
	}()

	s.logger.Info().
		Dur("interval", s.interval).
		Msg("TrackingService started")
	return nil
}

// Stop halts acquisition and closes the provider. The active session is kept.
func (s *TrackingService) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		s.logger.Warn().Msg("TrackingService is not running")
		return nil
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	if err := s.provider.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close location provider")
		return err
	}

	s.logger.Info().Msg("TrackingService stopped")
	return nil
}

func (s *TrackingService) acquire(ctx context.Context) {
	fix, err := s.provider.GetLocation(ctx)
	switch {
	case errors.Is(err, location.ErrNoFix):
		metrics.IncFixSkipped(metrics.SkipNoFix)
		s.logger.Debug().Msg("No location fix available")
		return
	case ctx.Err() != nil:
		return
	case err != nil:
		metrics.AcquisitionErrors.Inc()
		s.logger.Error().Err(err).Msg("Failed to get location from provider")
		s.reportError(err)
		return
	}

	if err := s.OnFixAcquired(fix); err != nil {
		s.logger.Warn().Err(err).Msg("Location fix skipped")
	}
}

func (s *TrackingService) reportError(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Debug().Err(err).Msg("Error channel full, dropping error")
	}
}

// OnFixAcquired records fix into the active session, starting a new session if
// none is active.
func (s *TrackingService) OnFixAcquired(fix location.Fix) error {
	if !fix.Valid() {
		metrics.IncFixSkipped(metrics.SkipInvalid)
		return fmt.Errorf("%w: lat=%f lon=%f", ErrInvalidFix, fix.Latitude, fix.Longitude)
	}
	at := fix.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}
	wp := models.WayPoint{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Altitude:  fix.Altitude,
		Timestamp: at,
	}

	s.recordMu.Lock()
	defer s.recordMu.Unlock()

	session := s.session.Load()
	if session == nil {
		session = track.NewSession(uuid.NewString(), at)
		s.session.Store(session)
		metrics.TracksStarted.Inc()
		s.logger.Info().Str("track_id", session.ID()).Msg("Track session started")
	}

	if err := session.Append(wp); err != nil {
		if errors.Is(err, track.ErrNonIncreasingTimestamp) {
			metrics.IncFixSkipped(metrics.SkipStale)
		}
		return err
	}
	metrics.FixesAcquired.Inc()

	if session.Len() == 1 {
		s.notifyTrackReady(session.Track())
	}
	s.details.Publish(session.Details())
	return nil
}

func (s *TrackingService) notifyTrackReady(t models.Track) {
	s.listenersMu.Lock()
	listeners := make([]TrackListener, 0, len(s.listenerKeys))
	for _, id := range s.listenerKeys {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l.OnTrackReady(t)
	}
}

// AddTrackListener registers l. If a session with waypoints is active, l is
// notified before AddTrackListener returns. Listeners must not add or remove
// listeners from inside OnTrackReady.
func (s *TrackingService) AddTrackListener(l TrackListener) ListenerID {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()

	s.listenersMu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = l
	s.listenerKeys = append(s.listenerKeys, id)
	s.listenersMu.Unlock()

	if session := s.session.Load(); session != nil && session.Len() > 0 {
		l.OnTrackReady(session.Track())
	}
	return id
}

// RemoveTrackListener unregisters the listener with the given id. It reports
// whether the listener was registered.
func (s *TrackingService) RemoveTrackListener(id ListenerID) bool {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if _, ok := s.listeners[id]; !ok {
		return false
	}
	delete(s.listeners, id)
	for i, key := range s.listenerKeys {
		if key == id {
			s.listenerKeys = append(s.listenerKeys[:i], s.listenerKeys[i+1:]...)
			break
		}
	}
	return true
}

// Details is the channel carrying the active session's details after each change.
func (s *TrackingService) Details() *observable.Channel[models.TrackDetails] {
	return s.details
}

// Errors delivers provider errors other than ErrNoFix. Errors are dropped when
// nobody drains the channel.
func (s *TrackingService) Errors() <-chan error {
	return s.errs
}

// ActiveTrack returns the session being recorded, if any.
func (s *TrackingService) ActiveTrack() (models.Track, bool) {
	session := s.session.Load()
	if session == nil {
		return models.Track{}, false
	}
	return session.Track(), true
}

// Snapshot returns the details of the session being recorded, if any.
func (s *TrackingService) Snapshot() (models.TrackDetails, bool) {
	session := s.session.Load()
	if session == nil {
		return models.TrackDetails{}, false
	}
	return session.Details(), true
}

// FinalizeSession stops recording the active session, publishes its final details
// and hands them to the archive. The next fix starts a new session.
func (s *TrackingService) FinalizeSession(ctx context.Context) (models.TrackDetails, error) {
	s.recordMu.Lock()
	session := s.session.Load()
	if session == nil {
		s.recordMu.Unlock()
		return models.TrackDetails{}, ErrNoActiveSession
	}
	details, err := session.Finalize(s.clock.Now())
	if err != nil {
		s.recordMu.Unlock()
		return models.TrackDetails{}, err
	}
	s.session.Store(nil)
	s.details.Publish(details)
	s.recordMu.Unlock()

	metrics.TracksFinalized.Inc()
	s.logger.Info().
		Str("track_id", details.ID).
		Int("waypoints", details.Summary.PointCount).
		Float64("distance_m", details.Summary.DistanceM).
		Msg("Track session finalized")

	if s.archive == nil {
		return details, nil
	}
	if err := s.archive.Save(ctx, details); err != nil {
		return details, fmt.Errorf("failed to archive track %s: %w", details.ID, err)
	}
	return details, nil
}

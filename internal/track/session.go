// Package track holds the in-memory representation of a recorded track.
package track

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/greta-tracker/internal/models"
)

var (
	ErrSessionFinalized       = errors.New("track session is finalized")
	ErrNonIncreasingTimestamp = errors.New("waypoint timestamp is not after the previous waypoint")
)

// Session is a track being recorded. Appends are serialized; readers get copies.
type Session struct {
	mu          sync.RWMutex
	id          string
	startedAt   time.Time
	status      models.TrackStatus
	finalizedAt time.Time
	wayPoints   []models.WayPoint
}

// NewSession creates an empty recording session.
func NewSession(id string, startedAt time.Time) *Session {
	return &Session{
		id:        id,
		startedAt: startedAt,
		status:    models.TrackRecording,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Track returns the session's identity.
func (s *Session) Track() models.Track {
	return models.Track{ID: s.id, StartedAt: s.startedAt}
}

func (s *Session) Status() models.TrackStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Len returns the number of recorded waypoints.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wayPoints)
}

// Append adds a waypoint at the end of the track. Its timestamp must be strictly
// after the last recorded one.
func (s *Session) Append(wp models.WayPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.TrackFinalized {
		return ErrSessionFinalized
	}
	if n := len(s.wayPoints); n > 0 && !wp.Timestamp.After(s.wayPoints[n-1].Timestamp) {
		return fmt.Errorf("%w: %s <= %s", ErrNonIncreasingTimestamp,
			wp.Timestamp.Format(time.RFC3339Nano), s.wayPoints[n-1].Timestamp.Format(time.RFC3339Nano))
	}
	s.wayPoints = append(s.wayPoints, wp)
	return nil
}

// Finalize closes the session for writing and returns its final details.
func (s *Session) Finalize(at time.Time) (models.TrackDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.TrackFinalized {
		return models.TrackDetails{}, ErrSessionFinalized
	}
	s.status = models.TrackFinalized
	s.finalizedAt = at
	return s.detailsLocked(), nil
}

// Details returns a snapshot of the session.
func (s *Session) Details() models.TrackDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detailsLocked()
}

func (s *Session) detailsLocked() models.TrackDetails {
	wayPoints := make([]models.WayPoint, len(s.wayPoints))
	copy(wayPoints, s.wayPoints)

	details := models.TrackDetails{
		Track:     models.Track{ID: s.id, StartedAt: s.startedAt},
		Status:    s.status,
		WayPoints: wayPoints,
		Summary:   Summarize(wayPoints),
	}
	if s.status == models.TrackFinalized {
		at := s.finalizedAt
		details.FinalizedAt = &at
	}
	return details
}

package models

import (
	"time"
)

// TrackStatus is the lifecycle state of a recorded track.
type TrackStatus string

const (
	TrackRecording TrackStatus = "recording"
	TrackFinalized TrackStatus = "finalized"
)

// WayPoint is one recorded point of a track. WayPoints are values and are never
// modified once appended.
type WayPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Track identifies a recording that became available to observers.
type Track struct {
	ID        string    `json:"track_id"`
	StartedAt time.Time `json:"started_at"`
}

// TrackSummary holds figures derived from a track's waypoints.
type TrackSummary struct {
	PointCount     int           `json:"point_count"`
	DistanceM      float64       `json:"distance_m"`
	ElevationGainM float64       `json:"elevation_gain_m"`
	MinAltitude    float64       `json:"min_altitude"`
	MaxAltitude    float64       `json:"max_altitude"`
	Duration       time.Duration `json:"duration"`
}

// TrackDetails is a read-only snapshot of a track used for presentation and archiving.
type TrackDetails struct {
	Track
	Status      TrackStatus  `json:"status"`
	FinalizedAt *time.Time   `json:"finalized_at,omitempty"`
	WayPoints   []WayPoint   `json:"waypoints"`
	Summary     TrackSummary `json:"summary"`
}

// LastWayPoint returns the most recent waypoint, if any.
func (d TrackDetails) LastWayPoint() (WayPoint, bool) {
	if len(d.WayPoints) == 0 {
		return WayPoint{}, false
	}
	return d.WayPoints[len(d.WayPoints)-1], true
}

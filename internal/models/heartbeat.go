package models

import "time"

// Heartbeat represents the periodic tracker status message.
type Heartbeat struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	TrackID   string    `json:"track_id,omitempty"`
	WayPoints int       `json:"waypoints"`
}

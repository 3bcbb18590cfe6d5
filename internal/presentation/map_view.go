package presentation

import (
	"sync"

	"github.com/benmeehan/greta-tracker/internal/constants"
	"github.com/benmeehan/greta-tracker/internal/models"
)

// MapView keeps a Renderer in sync with the recorded track and the positions of
// other users. Its methods are meant to be attached as observers.
type MapView struct {
	renderer Renderer

	mu      sync.Mutex
	markers map[string]Marker
}

func NewMapView(renderer Renderer) *MapView {
	return &MapView{
		renderer: renderer,
		markers:  make(map[string]Marker),
	}
}

// ShowTrack draws the track colored by altitude and follows its last waypoint.
// Details without waypoints are ignored.
func (v *MapView) ShowTrack(details models.TrackDetails) {
	last, ok := details.LastWayPoint()
	if !ok {
		return
	}

	points := make([]TrackPoint, len(details.WayPoints))
	for i, wp := range details.WayPoints {
		points[i] = TrackPoint{
			Position: Position{Latitude: wp.Latitude, Longitude: wp.Longitude},
			Color:    AltitudeColor(wp.Altitude),
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.renderer.DrawTrack(details.ID, points)
	v.renderer.SetAltitude(last.Altitude)
	v.renderer.MoveCamera(Position{Latitude: last.Latitude, Longitude: last.Longitude}, constants.MapZoom)
}

// ShowPresence places a marker per user, moving the ones already shown and
// removing users that left.
func (v *MapView) ShowPresence(snapshot models.PresenceSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	seen := make(map[string]struct{}, len(snapshot))
	for _, user := range snapshot {
		seen[user.UserID] = struct{}{}
		m := Marker{
			UserID:   user.UserID,
			Title:    user.Username,
			Position: Position{Latitude: user.Latitude, Longitude: user.Longitude},
		}
		prev, known := v.markers[user.UserID]
		switch {
		case !known:
			v.renderer.AddMarker(m)
		case prev != m:
			v.renderer.MoveMarker(m)
		}
		v.markers[user.UserID] = m
	}

	for id := range v.markers {
		if _, ok := seen[id]; !ok {
			delete(v.markers, id)
			v.renderer.RemoveMarker(id)
		}
	}
}

// Markers returns the number of markers on the map.
func (v *MapView) Markers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.markers)
}

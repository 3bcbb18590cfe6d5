package presentation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyRenderer records drawing commands.
type spyRenderer struct {
	mu       sync.Mutex
	calls    []string
	tracks   [][]TrackPoint
	camera   Position
	zoom     int
	altitude float64
}

func (r *spyRenderer) record(call string) {
	r.calls = append(r.calls, call)
}

func (r *spyRenderer) DrawTrack(trackID string, points []TrackPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("draw " + trackID)
	r.tracks = append(r.tracks, points)
}

func (r *spyRenderer) MoveCamera(center Position, zoom int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.camera, r.zoom = center, zoom
}

func (r *spyRenderer) SetAltitude(meters float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.altitude = meters
}

func (r *spyRenderer) AddMarker(m Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(fmt.Sprintf("add %s %s %.2f,%.2f", m.UserID, m.Title, m.Latitude, m.Longitude))
}

func (r *spyRenderer) MoveMarker(m Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(fmt.Sprintf("move %s %s %.2f,%.2f", m.UserID, m.Title, m.Latitude, m.Longitude))
}

func (r *spyRenderer) RemoveMarker(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("remove " + userID)
}

func (r *spyRenderer) drawn() [][]TrackPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]TrackPoint(nil), r.tracks...)
}

func (r *spyRenderer) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var t1 = time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC)

func TestAltitudeColor(t *testing.T) {
	tests := []struct {
		altitude float64
		want     string
	}{
		{0, "#cc0000"},
		{1000, "#66cc00"},
		{2000, "#00cccc"},
		{4000, "#cc0000"},
		{-1000, "#6600cc"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.altitude), func(t *testing.T) {
			assert.Equal(t, tt.want, AltitudeColor(tt.altitude))
		})
	}
}

func TestMapView_ShowTrack(t *testing.T) {
	r := &spyRenderer{}
	v := NewMapView(r)

	v.ShowTrack(models.TrackDetails{Track: models.Track{ID: "empty"}})
	assert.Empty(t, r.drawn(), "details without waypoints are not drawn")

	v.ShowTrack(models.TrackDetails{
		Track: models.Track{ID: "track-1", StartedAt: t1},
		WayPoints: []models.WayPoint{
			{Latitude: 48.85, Longitude: 2.35, Altitude: 35, Timestamp: t1},
			{Latitude: 48.86, Longitude: 2.36, Altitude: 40, Timestamp: t1.Add(time.Second)},
		},
	})

	drawn := r.drawn()
	require.Len(t, drawn, 1)
	require.Len(t, drawn[0], 2)
	assert.Equal(t, Position{Latitude: 48.85, Longitude: 2.35}, drawn[0][0].Position)
	assert.Equal(t, AltitudeColor(35), drawn[0][0].Color)
	assert.Equal(t, AltitudeColor(40), drawn[0][1].Color)
	assert.Equal(t, Position{Latitude: 48.86, Longitude: 2.36}, r.camera)
	assert.Equal(t, 16, r.zoom)
	assert.Equal(t, 40.0, r.altitude)
}

func TestMapView_ShowPresence(t *testing.T) {
	r := &spyRenderer{}
	v := NewMapView(r)

	alice := models.UserPresence{UserID: "a", Presence: models.Presence{Latitude: 1, Longitude: 2, Username: "Alice"}}
	bob := models.UserPresence{UserID: "b", Presence: models.Presence{Latitude: 3, Longitude: 4, Username: "Bob"}}

	v.ShowPresence(models.PresenceSnapshot{alice, bob})
	assert.Equal(t, 2, v.Markers())

	// Alice moves, Bob stays, then Bob leaves.
	alice.Latitude = 1.5
	v.ShowPresence(models.PresenceSnapshot{alice, bob})
	v.ShowPresence(models.PresenceSnapshot{alice})

	assert.Equal(t, []string{
		"add a Alice 1.00,2.00",
		"add b Bob 3.00,4.00",
		"move a Alice 1.50,2.00",
		"remove b",
	}, r.log())
	assert.Equal(t, 1, v.Markers())
}

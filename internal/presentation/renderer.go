// Package presentation turns track details and presence snapshots into map
// drawing commands.
package presentation

import (
	"math"

	"github.com/benmeehan/greta-tracker/internal/constants"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/rs/zerolog"
)

// Position is a point on the map.
type Position struct {
	Latitude  float64
	Longitude float64
}

// TrackPoint is one vertex of the drawn track.
type TrackPoint struct {
	Position
	// Color is the vertex color as #rrggbb.
	Color string
}

// Marker is another user's position on the map.
type Marker struct {
	UserID string
	Title  string
	Position
}

// Renderer draws on a map surface.
type Renderer interface {
	DrawTrack(trackID string, points []TrackPoint)
	MoveCamera(center Position, zoom int)
	SetAltitude(meters float64)
	AddMarker(m Marker)
	MoveMarker(m Marker)
	RemoveMarker(userID string)
}

// AltitudeColor maps an altitude to a color: hue turns with altitude, one full
// turn every AltitudeColorCeiling metres, at full saturation and 80% value.
func AltitudeColor(altitude float64) string {
	hue := math.Mod(altitude/constants.AltitudeColorCeiling*360, 360)
	if hue < 0 {
		hue += 360
	}
	return colorful.Hsv(hue, 1, 0.8).Hex()
}

// LogRenderer renders by logging each drawing command.
type LogRenderer struct {
	logger zerolog.Logger
}

func NewLogRenderer(logger zerolog.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) DrawTrack(trackID string, points []TrackPoint) {
	ev := r.logger.Info().Str("track_id", trackID).Int("points", len(points))
	if n := len(points); n > 0 {
		ev = ev.Str("first_color", points[0].Color).Str("last_color", points[n-1].Color)
	}
	ev.Msg("Draw track")
}

func (r *LogRenderer) MoveCamera(center Position, zoom int) {
	r.logger.Debug().
		Float64("latitude", center.Latitude).
		Float64("longitude", center.Longitude).
		Int("zoom", zoom).
		Msg("Move camera")
}

func (r *LogRenderer) SetAltitude(meters float64) {
	r.logger.Debug().Float64("altitude", meters).Msg("Set altimeter")
}

func (r *LogRenderer) AddMarker(m Marker) {
	r.logger.Info().
		Str("user_id", m.UserID).
		Str("title", m.Title).
		Float64("latitude", m.Latitude).
		Float64("longitude", m.Longitude).
		Msg("Add marker")
}

func (r *LogRenderer) MoveMarker(m Marker) {
	r.logger.Debug().
		Str("user_id", m.UserID).
		Str("title", m.Title).
		Float64("latitude", m.Latitude).
		Float64("longitude", m.Longitude).
		Msg("Move marker")
}

func (r *LogRenderer) RemoveMarker(userID string) {
	r.logger.Info().Str("user_id", userID).Msg("Remove marker")
}

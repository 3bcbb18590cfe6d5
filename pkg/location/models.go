package location

import (
	"errors"
	"math"
	"time"
)

// ErrNoFix reports that no position could be acquired right now (no signal, no
// satellites, positioning permission not granted). Callers treat it as transient.
var ErrNoFix = errors.New("no location fix available")

// Fix represents a single positioning measurement.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"` // metres above mean sea level, 0 when unknown
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the coordinates are finite and within WGS84 bounds.
func (f Fix) Valid() bool {
	if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) || math.IsNaN(f.Altitude) {
		return false
	}
	if math.IsInf(f.Altitude, 0) {
		return false
	}
	return f.Latitude >= -90 && f.Latitude <= 90 && f.Longitude >= -180 && f.Longitude <= 180
}

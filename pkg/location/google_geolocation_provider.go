package location

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"googlemaps.github.io/maps"
)

// geolocateTimeout caps a single Geolocation API round trip.
const geolocateTimeout = 10 * time.Second

// geolocator is the subset of *maps.Client used by GoogleGeolocationProvider.
type geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// GoogleGeolocationProvider uses the Google Maps API to get location data.
// The API reports no altitude, so fixes from it carry Altitude 0.
type GoogleGeolocationProvider struct {
	client     geolocator // Maps API client for making geolocation requests
	modemIndex int
	clock      clockwork.Clock

	// Radio scanners, replaceable in tests.
	wifiScan func(ctx context.Context) ([]maps.WiFiAccessPoint, error)
	cellScan func(ctx context.Context, modemIndex int) ([]maps.CellTower, error)
}

// NewGoogleGeolocationProvider creates a new GoogleGeolocationProvider instance.
func NewGoogleGeolocationProvider(apiKey string, modemIndex int, clock clockwork.Clock) (*GoogleGeolocationProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &GoogleGeolocationProvider{
		client:     c,
		modemIndex: modemIndex,
		clock:      clock,
		wifiScan:   getWiFiAccessPoints,
		cellScan:   getCellTowers,
	}, nil
}

// GetLocation retrieves the device's location using Google Maps Geolocation API.
// Missing radio data is not fatal: the request falls back to IP based lookup.
func (g *GoogleGeolocationProvider) GetLocation(ctx context.Context) (Fix, error) {
	ctx, cancel := context.WithTimeout(ctx, geolocateTimeout)
	defer cancel()

	req := &maps.GeolocationRequest{ConsiderIP: true}
	if wifiAPs, err := g.wifiScan(ctx); err == nil {
		req.WiFiAccessPoints = wifiAPs
	}
	if cellTowers, err := g.cellScan(ctx, g.modemIndex); err == nil {
		req.CellTowers = cellTowers
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		return Fix{}, fmt.Errorf("geolocate request failed: %w", err)
	}
	if resp == nil {
		return Fix{}, ErrNoFix
	}

	return Fix{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
		Timestamp: g.clock.Now(),
	}, nil
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (g *GoogleGeolocationProvider) Close() error {
	return nil
}

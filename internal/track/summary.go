package track

import (
	"math"

	"github.com/benmeehan/greta-tracker/internal/models"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Summarize derives distance, elevation gain and altitude range from waypoints.
func Summarize(wayPoints []models.WayPoint) models.TrackSummary {
	summary := models.TrackSummary{PointCount: len(wayPoints)}
	if len(wayPoints) == 0 {
		return summary
	}

	first := wayPoints[0]
	summary.MinAltitude = first.Altitude
	summary.MaxAltitude = first.Altitude
	for i := 1; i < len(wayPoints); i++ {
		prev, cur := wayPoints[i-1], wayPoints[i]
		summary.DistanceM += HaversineKm(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude) * 1000
		if cur.Altitude > prev.Altitude {
			summary.ElevationGainM += cur.Altitude - prev.Altitude
		}
		summary.MinAltitude = math.Min(summary.MinAltitude, cur.Altitude)
		summary.MaxAltitude = math.Max(summary.MaxAltitude, cur.Altitude)
	}
	summary.Duration = wayPoints[len(wayPoints)-1].Timestamp.Sub(first.Timestamp)
	return summary
}

// Package containment classifies coordinates against a patient's zone.
package containment

import (
	"math"

	"safezone/internal/geofence/models"
)

const earthRadiusMeters = 6371000

// Evaluate reports whether c lies in the zone's closed disk. A point exactly
// RadiusMeters from the center is inside.
func Evaluate(zone models.Zone, c models.Coordinate) models.Verdict {
	if WithinRadius(Distance(zone.Center, c), zone.RadiusMeters) {
		return models.VerdictInside
	}
	return models.VerdictOutside
}

// WithinRadius treats the zone as a closed disk: a distance equal to the
// radius is inside.
func WithinRadius(distanceMeters float64, radiusMeters int) bool {
	return distanceMeters <= float64(radiusMeters)
}

// Distance is the haversine great-circle distance in meters.
func Distance(a, b models.Coordinate) float64 {
	return haversine(a.Latitude(), a.Longitude(), b.Latitude(), b.Longitude())
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Package geo provides great-circle distance and travel-time estimates for
// dispatch decisions.
package geo

import (
	"math"

	"github.com/rescuegrid/rescuegrid/core/model"
)

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two coordinates in
// kilometers. The intermediate value is clamped to [0,1] so antipodal or
// identical inputs cannot overshoot the inverse sine domain.
func DistanceKm(a, b model.Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	if h < 0 {
		h = 0
	}
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// ETAMinutes estimates travel time for the given distance at an average
// speed. Non-positive speeds fall back to 40 km/h. This is a straight-line
// estimate, not a routed one.
func ETAMinutes(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = 40
	}
	return distanceKm / speedKmh * 60
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

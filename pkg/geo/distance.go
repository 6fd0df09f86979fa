// Package geo provides the geodesic query engine: distance primitives,
// padded search boxes and the two-phase radius and nearest-neighbor queries
// that run on top of a spatial index.
package geo

import (
	"math"

	"github.com/1F47E/geo-region-index/pkg/models"
)

// EarthRadius is the equatorial radius of the WGS84 ellipsoid in meters.
const EarthRadius = 6378137.0

// Haversine returns the great-circle distance between a and b in meters.
// It is the metric used for every exact filter in this package.
func Haversine(a, b models.Location) float64 {
	lat1Rad := a.Lat * math.Pi / 180.0
	lat2Rad := b.Lat * math.Pi / 180.0

	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadius * c
}

// Euclidean returns the planar distance between a and b in degree units.
// Only accurate over short distances away from the poles.
func Euclidean(a, b models.Location) float64 {
	return math.Hypot(b.Lat-a.Lat, b.Lon-a.Lon)
}

// Manhattan returns the sum of absolute coordinate differences in degree units.
func Manhattan(a, b models.Location) float64 {
	return math.Abs(b.Lat-a.Lat) + math.Abs(b.Lon-a.Lon)
}

package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/1F47E/geo-region-index/pkg/models"
)

const (
	// PaddingFactor over-sizes the radius before it is converted to degrees
	// so the box always covers the whole search disc.
	PaddingFactor = 1.5

	eccentricitySquared = 0.00669437999014
)

// ErrInvalidDistance is returned for a radius that is not a positive finite number.
var ErrInvalidDistance = errors.New("invalid distance")

// SearchBox is a padded lat/lon rectangle around a center point. It may extend
// past ±180° longitude; use Ranges to get index-ready boxes.
type SearchBox struct {
	models.BoundingBox
	Center models.Location
	Radius float64
}

// NewSearchBox builds the box bounding every point within radius meters of center.
func NewSearchBox(center models.Location, radius float64) (SearchBox, error) {
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return SearchBox{}, fmt.Errorf("%w: %v", ErrInvalidDistance, radius)
	}
	if err := center.Validate(); err != nil {
		return SearchBox{}, err
	}

	padded := PaddingFactor * radius

	latSpread := padded / LatitudinalWidth(center.Lat)
	minLat := math.Max(center.Lat-latSpread, -90)
	maxLat := math.Min(center.Lat+latSpread, 90)

	// The parallel farther from the equator has the narrower degree width and
	// therefore gives the larger longitude spread.
	widestLat := maxLat
	if center.Lat < 0 {
		widestLat = minLat
	}

	minLon, maxLon := -180.0, 180.0
	lngSpread := padded / LongitudinalWidth(widestLat)
	if !math.IsInf(lngSpread, 0) && !math.IsNaN(lngSpread) && lngSpread < 180 {
		minLon = center.Lon - lngSpread
		maxLon = center.Lon + lngSpread
	}

	return SearchBox{
		BoundingBox: models.BoundingBox{
			BottomLeft: models.Location{Lat: minLat, Lon: minLon},
			TopRight:   models.Location{Lat: maxLat, Lon: maxLon},
		},
		Center: center,
		Radius: radius,
	}, nil
}

// Ranges returns the box as one or two rectangles inside [-180, 180]
// longitude, splitting it where it crosses the antimeridian.
func (s SearchBox) Ranges() []models.BoundingBox {
	minLat, maxLat := s.BottomLeft.Lat, s.TopRight.Lat
	minLon, maxLon := s.BottomLeft.Lon, s.TopRight.Lon

	box := func(lo, hi float64) models.BoundingBox {
		return models.BoundingBox{
			BottomLeft: models.Location{Lat: minLat, Lon: lo},
			TopRight:   models.Location{Lat: maxLat, Lon: hi},
		}
	}

	switch {
	case maxLon-minLon >= 360:
		return []models.BoundingBox{box(-180, 180)}
	case minLon < -180:
		return []models.BoundingBox{box(-180, maxLon), box(minLon+360, 180)}
	case maxLon > 180:
		return []models.BoundingBox{box(minLon, 180), box(-180, maxLon-360)}
	default:
		return []models.BoundingBox{s.BoundingBox}
	}
}

// LatitudinalWidth returns the length in meters of one degree of latitude at lat.
func LatitudinalWidth(lat float64) float64 {
	phi := lat * math.Pi / 180.0
	return 111132.954 - 559.822*math.Cos(2*phi) + 1.175*math.Cos(4*phi)
}

// LongitudinalWidth returns the length in meters of one degree of longitude
// at lat on the WGS84 ellipsoid. It is zero at the poles.
func LongitudinalWidth(lat float64) float64 {
	phi := lat * math.Pi / 180.0
	sin := math.Sin(phi)
	return (math.Pi * EarthRadius * math.Abs(math.Cos(phi))) /
		(180 * math.Sqrt(1-eccentricitySquared*sin*sin))
}

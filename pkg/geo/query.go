package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/1F47E/geo-region-index/pkg/models"
)

// DefaultOverFetch is how many index candidates Nearest inspects per requested
// neighbor. The index ranks by planar degree distance, so the factor is a
// heuristic against mis-ranking, not a guarantee.
const DefaultOverFetch = 2

// ErrInvalidCount is returned when a nearest query asks for fewer than one neighbor.
var ErrInvalidCount = errors.New("invalid neighbor count")

// SpatialIndex is the part of a spatial index the query engine consumes.
type SpatialIndex[T comparable] interface {
	SearchWithin(box models.BoundingBox) []models.Point[T]
	SearchNearest(center models.Location, k int) []models.Point[T]
}

// Neighbor is a nearest-query result with its haversine distance in meters.
type Neighbor[T comparable] struct {
	Distance float64         `json:"distance"`
	Point    models.Point[T] `json:"point"`
}

// Around returns every indexed point whose haversine distance to center is at
// most distance meters. The index is consulted with a padded search box and the
// candidates are filtered by exact distance.
func Around[T comparable](index SpatialIndex[T], center models.Location, distance float64) ([]models.Point[T], error) {
	box, err := NewSearchBox(center, distance)
	if err != nil {
		return nil, fmt.Errorf("invalid radius search: %w", err)
	}

	points := make([]models.Point[T], 0)
	for _, r := range box.Ranges() {
		for _, p := range index.SearchWithin(r) {
			if Haversine(center, p.Location) <= distance {
				points = append(points, p)
			}
		}
	}
	return points, nil
}

// Nearest returns up to k indexed points closest to center, sorted by
// non-decreasing haversine distance. overFetch·k candidates are taken from the
// index; values below 1 use DefaultOverFetch.
func Nearest[T comparable](index SpatialIndex[T], center models.Location, k, overFetch int) ([]Neighbor[T], error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, k)
	}
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if overFetch < 1 {
		overFetch = DefaultOverFetch
	}

	candidates := index.SearchNearest(center, candidateCount(k, overFetch))

	neighbors := make([]Neighbor[T], 0, len(candidates))
	for _, p := range candidates {
		neighbors = append(neighbors, Neighbor[T]{
			Distance: Haversine(center, p.Location),
			Point:    p,
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func candidateCount(k, overFetch int) int {
	if k > math.MaxInt/overFetch {
		return math.MaxInt
	}
	return k * overFetch
}

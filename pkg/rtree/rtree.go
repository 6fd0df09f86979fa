// Package rtree adapts github.com/dhconnelly/rtreego to the spatial index
// contract used by regions: points are stored as degenerate leaves and can be
// searched by box or by approximate nearest distance.
package rtree

import (
	"errors"
	"fmt"

	"github.com/1F47E/geo-region-index/pkg/models"
	"github.com/dhconnelly/rtreego"
)

const (
	// leafTolerance gives point leaves a vanishingly small extent.
	leafTolerance = 1e-9
	// minExtent keeps query rectangles valid for rtreego, which rejects
	// non-positive side lengths.
	minExtent = 1e-9

	DefaultMinChildren = 25
	DefaultMaxChildren = 50
)

// ErrInvalidDimension is returned when an index is created with fewer than one dimension.
var ErrInvalidDimension = errors.New("invalid dimension")

// leaf wraps a point to implement rtreego.Spatial interface
type leaf[T comparable] struct {
	point models.Point[T]
	rect  *rtreego.Rect
}

func (l *leaf[T]) Bounds() *rtreego.Rect {
	return l.rect
}

// Index is an R-Tree of points. It is not safe for concurrent use; a region
// owns exactly one index and is its only caller. Points are deleted by value,
// so they must equal themselves (see models.Point.Validate).
type Index[T comparable] struct {
	tree       *rtreego.Rtree
	dimensions int
	// leaves finds the tree entry to delete for a point value.
	leaves map[models.Point[T]][]*leaf[T]
}

// New creates an empty index with the default branching factors.
func New[T comparable](dimensions int) (*Index[T], error) {
	return NewWithBranching[T](dimensions, DefaultMinChildren, DefaultMaxChildren)
}

// NewWithBranching creates an empty index with explicit node fan-out bounds.
func NewWithBranching[T comparable](dimensions, minChildren, maxChildren int) (*Index[T], error) {
	if dimensions < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimensions)
	}
	if minChildren < 1 || maxChildren < 2*minChildren-1 {
		return nil, fmt.Errorf("invalid branching: min %d, max %d", minChildren, maxChildren)
	}
	return &Index[T]{
		tree:       rtreego.NewTree(dimensions, minChildren, maxChildren),
		dimensions: dimensions,
		leaves:     make(map[models.Point[T]][]*leaf[T]),
	}, nil
}

// Insert adds a point to the index. Equal points may be inserted more than once.
func (idx *Index[T]) Insert(p models.Point[T]) {
	l := &leaf[T]{
		point: p,
		rect:  idx.coords(p.Location).ToRect(leafTolerance),
	}
	idx.tree.Insert(l)
	idx.leaves[p] = append(idx.leaves[p], l)
}

// Delete removes one occurrence of p and reports whether it was present.
func (idx *Index[T]) Delete(p models.Point[T]) bool {
	entries := idx.leaves[p]
	if len(entries) == 0 {
		return false
	}

	last := entries[len(entries)-1]
	if !idx.tree.Delete(last) {
		return false
	}

	if len(entries) == 1 {
		delete(idx.leaves, p)
	} else {
		idx.leaves[p] = entries[:len(entries)-1]
	}
	return true
}

// SearchWithin returns all points inside the box, edges included.
func (idx *Index[T]) SearchWithin(box models.BoundingBox) []models.Point[T] {
	bottomLeft := idx.coords(box.BottomLeft)
	topRight := idx.coords(box.TopRight)

	lengths := make([]float64, idx.dimensions)
	for i := range lengths {
		lengths[i] = topRight[i] - bottomLeft[i]
		if lengths[i] < minExtent {
			lengths[i] = minExtent
		}
	}

	bounds, err := rtreego.NewRect(bottomLeft, lengths)
	if err != nil {
		return nil
	}

	results := idx.tree.SearchIntersect(bounds)

	// Filter results to ensure they're strictly within bounds
	points := make([]models.Point[T], 0, len(results))
	for _, result := range results {
		l, ok := result.(*leaf[T])
		if !ok || !box.Contains(l.point.Location) {
			continue
		}
		points = append(points, l.point)
	}
	return points
}

// SearchNearest returns up to k points ranked by the tree's planar degree
// distance to center.
func (idx *Index[T]) SearchNearest(center models.Location, k int) []models.Point[T] {
	if size := idx.tree.Size(); k > size {
		k = size
	}
	if k <= 0 {
		return nil
	}

	results := idx.tree.NearestNeighbors(k, idx.coords(center))

	points := make([]models.Point[T], 0, len(results))
	for _, result := range results {
		l, ok := result.(*leaf[T])
		if !ok || l == nil {
			continue
		}
		points = append(points, l.point)
	}
	return points
}

// Size returns the number of indexed points.
func (idx *Index[T]) Size() int {
	return idx.tree.Size()
}

// coords maps a location into the tree's coordinate space: latitude first,
// then longitude, then zeros for any extra dimensions.
func (idx *Index[T]) coords(loc models.Location) rtreego.Point {
	p := make(rtreego.Point, idx.dimensions)
	p[0] = loc.Lat
	if idx.dimensions > 1 {
		p[1] = loc.Lon
	}
	return p
}

package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate is returned when a latitude or longitude is not a
// finite number inside its valid range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ErrInvalidPayload is returned for a point that does not equal itself, such
// as one whose payload holds a NaN.
var ErrInvalidPayload = errors.New("invalid payload")

// Location represents a geographic location with latitude and longitude
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether the location is a finite coordinate on the globe.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, l.Lat)
	}
	if math.IsNaN(l.Lon) || math.IsInf(l.Lon, 0) || l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, l.Lon)
	}
	return nil
}

// Point is an immutable geographic coordinate carrying a caller-defined payload.
// Two points are equal when their coordinates and payloads are equal.
type Point[T comparable] struct {
	Location
	Payload T `json:"payload"`
}

// NewPoint validates the coordinates and builds a Point.
func NewPoint[T comparable](lat, lon float64, payload T) (Point[T], error) {
	loc := Location{Lat: lat, Lon: lon}
	if err := loc.Validate(); err != nil {
		return Point[T]{}, err
	}
	return Point[T]{Location: loc, Payload: payload}, nil
}

// Validate checks the coordinates and that the point equals itself. Indexes
// look points up by value, so a point that is not equal to itself could never
// be found again.
func (p Point[T]) Validate() error {
	if err := p.Location.Validate(); err != nil {
		return err
	}
	if !p.Equal(p) {
		return ErrInvalidPayload
	}
	return nil
}

// Equal reports value equality on (lat, lon, payload).
func (p Point[T]) Equal(other Point[T]) bool {
	return p == other
}

// Object is an entry of a region's object table.
type Object[T comparable] struct {
	ID    string   `json:"id"`
	Point Point[T] `json:"point"`
}

// BoundingBox represents a rectangular area defined by two corners
type BoundingBox struct {
	BottomLeft Location `json:"bottom_left"`
	TopRight   Location `json:"top_right"`
}

// Contains reports whether loc lies inside the box, edges included.
func (b BoundingBox) Contains(loc Location) bool {
	return loc.Lat >= b.BottomLeft.Lat && loc.Lat <= b.TopRight.Lat &&
		loc.Lon >= b.BottomLeft.Lon && loc.Lon <= b.TopRight.Lon
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/1F47E/geo-region-index/pkg/geo"
	"github.com/1F47E/geo-region-index/pkg/models"
	"github.com/1F47E/geo-region-index/pkg/region"
	"github.com/spf13/cobra"
)

func runQuery(cmd *cobra.Command, _ []string) error {
	if queryType != "around" && queryType != "nearest" {
		return fmt.Errorf("unknown query type: %s", queryType)
	}

	reg, log, err := setup()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := cmd.Context()

	r, err := reg.Create("query", queryLat, queryLon)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	start := time.Now()
	if err := loadRandom(ctx, r, rng, numPoints); err != nil {
		return err
	}
	log.Info("loaded objects", "count", numPoints, "elapsed", time.Since(start))

	center := models.Location{Lat: queryLat, Lon: queryLon}

	var neighbors []geo.Neighbor[string]
	start = time.Now()
	switch queryType {
	case "around":
		points, err := r.QueryAround(ctx, center, searchRadius)
		if err != nil {
			return fmt.Errorf("around query failed: %w", err)
		}
		for _, p := range points {
			neighbors = append(neighbors, geo.Neighbor[string]{Distance: geo.Haversine(center, p.Location), Point: p})
		}
		log.Info("around query finished", "radius_m", searchRadius, "found", len(points), "elapsed", time.Since(start))
	case "nearest":
		neighbors, err = r.QueryNearest(ctx, center, numNeighbors)
		if err != nil {
			return fmt.Errorf("nearest query failed: %w", err)
		}
		log.Info("nearest query finished", "k", numNeighbors, "found", len(neighbors), "elapsed", time.Since(start))
	}

	if len(neighbors) > limit {
		log.Info("truncating output", "shown", limit, "total", len(neighbors))
		neighbors = neighbors[:limit]
	}

	if outputJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(neighbors)
	}
	for i, n := range neighbors {
		fmt.Printf("%d. %s: (%.6f, %.6f) - %.2f m\n",
			i+1, n.Point.Payload, n.Point.Lat, n.Point.Lon, n.Distance)
	}
	return nil
}

// loadRandom fills r with n objects scattered up to twice the coverage
// radius around its center.
func loadRandom(ctx context.Context, r *region.Region[string], rng *rand.Rand, n int) error {
	spread := 2 * r.CoverageRadius()
	for i := 0; i < n; i++ {
		loc := randomAround(rng, r.Center(), spread)
		id := strconv.Itoa(i)
		p, err := models.NewPoint(loc.Lat, loc.Lon, r.Name()+"-"+id)
		if err != nil {
			return err
		}
		if err := r.AddObject(ctx, id, p); err != nil {
			return fmt.Errorf("failed to add object %s: %w", id, err)
		}
	}
	return nil
}

// randomAround returns a location at most maxDistance meters from center,
// clamped to valid coordinates.
func randomAround(rng *rand.Rand, center models.Location, maxDistance float64) models.Location {
	dLat := (rng.Float64()*2 - 1) * maxDistance / geo.LatitudinalWidth(center.Lat)
	dLon := (rng.Float64()*2 - 1) * maxDistance / math.Max(geo.LongitudinalWidth(center.Lat), 1)

	lat := math.Max(-90, math.Min(90, center.Lat+dLat))
	lon := center.Lon + dLon
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return models.Location{Lat: lat, Lon: lon}
}

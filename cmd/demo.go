package main

import (
	"fmt"

	"github.com/1F47E/geo-region-index/pkg/models"
	"github.com/spf13/cobra"
)

type demoDriver struct {
	id       string
	lat, lon float64
}

type demoBooking struct {
	name     string
	at       models.Location
	distance float64
}

var (
	demoDrivers = []demoDriver{
		{"a", 4.634562, -74.076297},
		{"b", 4.631415, -74.074769},
		{"c", 5.631415, -72.074769},
	}

	demoBookings = []demoBooking{
		{"booking 1", models.Location{Lat: 4.634999, Lon: -74.071882}, 500},
		{"booking 2", models.Location{Lat: 4.626682, Lon: -74.071308}, 1000},
	}
)

func runDemo(cmd *cobra.Command, _ []string) error {
	reg, log, err := setup()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := cmd.Context()

	printTitle("Geo Region Demo")

	bogota, err := reg.Create("bogota", 4.6097, -74.0817)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Created region %s (%s)", bogota.Name(), bogota.ID()))
	printStat("Coverage radius", fmt.Sprintf("%.0f m", bogota.CoverageRadius()))

	printSubtitle("Drivers")
	for _, d := range demoDrivers {
		p, err := models.NewPoint(d.lat, d.lon, d.id)
		if err != nil {
			return err
		}
		if err := bogota.AddObject(ctx, d.id, p); err != nil {
			return fmt.Errorf("failed to add driver %s: %w", d.id, err)
		}
		printInfo(fmt.Sprintf("driver %s at (%.6f, %.6f)", d.id, d.lat, d.lon))
	}

	printSubtitle("Bookings")
	for _, b := range demoBookings {
		points, err := bogota.QueryAround(ctx, b.at, b.distance)
		if err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		ids := make([]string, 0, len(points))
		for _, p := range points {
			ids = append(ids, p.Payload)
		}
		printSuccess(fmt.Sprintf("%s within %.0f m: %v", b.name, b.distance, ids))
	}

	printSubtitle("Nearest drivers to booking 2")
	neighbors, err := bogota.QueryNearest(ctx, demoBookings[1].at, len(demoDrivers))
	if err != nil {
		return err
	}
	for i, n := range neighbors {
		fmt.Printf("%d. %s - %.2f m\n", i+1, n.Point.Payload, n.Distance)
	}

	covered, err := bogota.QueryCoverage(ctx)
	if err != nil {
		return err
	}
	printStat("Drivers inside coverage", len(covered))

	log.Debug("demo finished", "region_id", bogota.ID())
	return nil
}

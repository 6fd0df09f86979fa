package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1F47E/geo-region-index/pkg/region"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// benchCity is a region center used by the benchmark.
type benchCity struct {
	name     string
	lat, lon float64
}

var benchCities = []benchCity{
	{"bogota", 4.6097, -74.0817},
	{"lima", -12.0464, -77.0428},
	{"madrid", 40.4168, -3.7038},
	{"nairobi", -1.2921, 36.8219},
	{"tokyo", 35.6762, 139.6503},
	{"sydney", -33.8688, 151.2093},
	{"reykjavik", 64.1466, -21.9426},
	{"suva", -18.1248, 178.4501},
}

type benchResult struct {
	queries     int
	results     int64
	total       time.Duration
	latencies   []time.Duration
	loadElapsed time.Duration
}

func runBench(cmd *cobra.Command, _ []string) error {
	if benchRegions < 1 {
		return fmt.Errorf("regions must be at least 1, got %d", benchRegions)
	}

	reg, log, err := setup()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := cmd.Context()

	regions := make([]*region.Region[string], 0, benchRegions)
	for i := 0; i < benchRegions; i++ {
		city := benchCities[i%len(benchCities)]
		name := city.name
		if i >= len(benchCities) {
			name = fmt.Sprintf("%s-%d", city.name, i/len(benchCities))
		}
		r, err := reg.Create(name, city.lat, city.lon)
		if err != nil {
			return err
		}
		regions = append(regions, r)
	}

	printTitle("Region Benchmark")
	printStat("Regions", len(regions))
	printStat("Objects per region", benchPoints)
	printStat("Queries per region", benchQueries)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range regions {
		rng := rand.New(rand.NewSource(benchSeed + int64(i)))
		g.Go(func() error {
			return loadRandom(gctx, r, rng, benchPoints)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	loadElapsed := time.Since(start)
	printSuccess(fmt.Sprintf("Loaded %d objects in %v", benchPoints*len(regions), loadElapsed))

	var (
		mu        sync.Mutex
		latencies []time.Duration
		found     atomic.Int64
	)

	start = time.Now()
	g, gctx = errgroup.WithContext(ctx)
	for i, r := range regions {
		rng := rand.New(rand.NewSource(benchSeed + int64(len(regions)+i)))
		g.Go(func() error {
			local, n, err := benchQueriesOn(gctx, r, rng)
			if err != nil {
				return fmt.Errorf("region %s: %w", r.Name(), err)
			}
			found.Add(n)
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res := benchResult{
		queries:     len(latencies),
		results:     found.Load(),
		total:       time.Since(start),
		latencies:   latencies,
		loadElapsed: loadElapsed,
	}
	printResult(res)

	log.Debug("benchmark finished", "regions", len(regions), "queries", res.queries)
	return nil
}

// benchQueriesOn alternates around and nearest queries against r.
func benchQueriesOn(ctx context.Context, r *region.Region[string], rng *rand.Rand) ([]time.Duration, int64, error) {
	latencies := make([]time.Duration, 0, benchQueries)
	var found int64
	for q := 0; q < benchQueries; q++ {
		center := randomAround(rng, r.Center(), r.CoverageRadius())

		start := time.Now()
		if q%2 == 0 {
			points, err := r.QueryAround(ctx, center, benchRadius)
			if err != nil {
				return nil, 0, err
			}
			found += int64(len(points))
		} else {
			neighbors, err := r.QueryNearest(ctx, center, benchNeighbors)
			if err != nil {
				return nil, 0, err
			}
			found += int64(len(neighbors))
		}
		latencies = append(latencies, time.Since(start))
	}
	return latencies, found, nil
}

func printResult(res benchResult) {
	printSubtitle("Results")
	if res.queries == 0 {
		printInfo("No queries were run")
		return
	}

	sort.Slice(res.latencies, func(i, j int) bool { return res.latencies[i] < res.latencies[j] })
	percentile := func(p float64) time.Duration {
		return res.latencies[int(p*float64(len(res.latencies)-1))]
	}

	var sum time.Duration
	for _, l := range res.latencies {
		sum += l
	}

	printStat("Load time", res.loadElapsed)
	printStat("Total queries", res.queries)
	printStat("Wall time", res.total)
	printStat("Queries/sec", fmt.Sprintf("%.0f", float64(res.queries)/res.total.Seconds()))
	printStat("Avg latency", sum/time.Duration(res.queries))
	printStat("P50 latency", percentile(0.50))
	printStat("P99 latency", percentile(0.99))
	printStat("Max latency", res.latencies[len(res.latencies)-1])
	printStat("Avg results", fmt.Sprintf("%.2f", float64(res.results)/float64(res.queries)))
}

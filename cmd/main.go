package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/1F47E/geo-region-index/pkg/config"
	"github.com/1F47E/geo-region-index/pkg/logger"
	"github.com/1F47E/geo-region-index/pkg/metrics"
	"github.com/1F47E/geo-region-index/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	envFile     string
	verbose     bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "georegion",
	Short: "Region-based geodesic proximity search",
	Long: `Manage in-memory regions of geolocated objects and answer radius and
nearest-neighbor queries with haversine distance.`,
	SilenceUsage: true,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Match bookings to nearby drivers in a Bogotá region",
	RunE:  runDemo,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run one radius or nearest query over random points",
	Long:  `Generate random objects around the query point inside a fresh region and run a single around or nearest query.`,
	RunE:  runQuery,
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark concurrent regions",
	Long:  `Create several regions, load them concurrently and run mixed queries against each one.`,
	RunE:  runBench,
}

var (
	queryType    string
	queryLat     float64
	queryLon     float64
	searchRadius float64
	numNeighbors int
	numPoints    int
	seed         int64
	limit        int
	outputJSON   bool

	benchRegions   int
	benchPoints    int
	benchQueries   int
	benchRadius    float64
	benchNeighbors int
	benchSeed      int64
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file loaded before reading GEOREGION_* variables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	queryCmd.Flags().StringVarP(&queryType, "type", "t", "around", "Query type: around, nearest")
	queryCmd.Flags().Float64Var(&queryLat, "lat", 4.6097, "Query latitude")
	queryCmd.Flags().Float64Var(&queryLon, "lon", -74.0817, "Query longitude")
	queryCmd.Flags().Float64VarP(&searchRadius, "radius", "r", 1000, "Search radius in meters (around query)")
	queryCmd.Flags().IntVar(&numNeighbors, "k", 10, "Number of nearest neighbors (nearest query)")
	queryCmd.Flags().IntVarP(&numPoints, "points", "p", 10000, "Number of random objects to load")
	queryCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	queryCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results to display")
	queryCmd.Flags().BoolVar(&outputJSON, "json", false, "Output results as JSON")

	benchCmd.Flags().IntVar(&benchRegions, "regions", 8, "Number of regions")
	benchCmd.Flags().IntVarP(&benchPoints, "points", "p", 100000, "Objects per region")
	benchCmd.Flags().IntVarP(&benchQueries, "queries", "q", 1000, "Queries per region")
	benchCmd.Flags().Float64VarP(&benchRadius, "radius", "r", 1000, "Search radius in meters")
	benchCmd.Flags().IntVar(&benchNeighbors, "k", 10, "Number of nearest neighbors")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", time.Now().UnixNano(), "Random seed")

	rootCmd.AddCommand(demoCmd, queryCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the registry every command works on.
func setup() (*registry.Registry[string], *slog.Logger, error) {
	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	log, err := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)
	if cfg.Metrics.Addr != "" {
		serveMetrics(cfg.Metrics.Addr, promRegistry, log)
	}

	reg := registry.New[string](
		registry.WithRegionConfig(cfg.RegionConfig()),
		registry.WithLogger(log),
		registry.WithMetrics(m),
	)
	return reg, log, nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
}

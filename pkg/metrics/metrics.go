package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for regions and their requests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RegionsActive prometheus.Gauge
	Requests      *prometheus.CounterVec
	QueryResults  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "georegion_regions_active",
			Help: "Number of region actors currently running",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "georegion_region_requests_total",
			Help: "Region requests by operation and outcome",
		}, []string{"op", "outcome"}),
		QueryResults: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "georegion_query_results",
			Help:    "Number of points returned per region query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"op"}),
	}
}

// RegionStarted counts a region that began running.
func (m *Metrics) RegionStarted() {
	if m == nil {
		return
	}
	m.RegionsActive.Inc()
}

// RegionTerminated counts a region that stopped.
func (m *Metrics) RegionTerminated() {
	if m == nil {
		return
	}
	m.RegionsActive.Dec()
}

// ObserveRequest counts one finished region request.
func (m *Metrics) ObserveRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, outcome).Inc()
}

// ObserveQueryResults records the size of a query answer.
func (m *Metrics) ObserveQueryResults(op string, n int) {
	if m == nil {
		return
	}
	m.QueryResults.WithLabelValues(op).Observe(float64(n))
}

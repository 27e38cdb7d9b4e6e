package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's Prometheus collectors.
type Metrics struct {
	RequestTotal   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	ResultCount    *prometheus.HistogramVec
	IndexReloads   prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruiji_requests_total",
				Help: "Total number of API operations",
			},
			[]string{"operation", "status"}, // operation: query/estimate/find, status: success/error
		),
		RequestLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ruiji_request_latency_seconds",
				Help:    "Latency of API operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ResultCount: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ruiji_results_returned",
				Help:    "Number of matches returned per request",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"operation"},
		),
		IndexReloads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ruiji_index_reloads_total",
				Help: "Number of times the cached index was invalidated after a rebuild",
			},
		),
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "opsdash"
)

var (
	pollDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600}

	// Connector request metrics
	ConnectorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "connector_request_duration_seconds",
		Help:      "Time taken for a single remote connector call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"vendor", "operation"})

	ConnectorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_requests_total",
		Help:      "Count of remote connector calls by outcome.",
	}, []string{"vendor", "operation", "outcome"})

	ConnectorRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_rate_limited_total",
		Help:      "Count of 429 responses received from vendors.",
	}, []string{"vendor"})

	// Poller metrics
	PollIterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_iterations_total",
		Help:      "Number of status queries issued by completion pollers.",
	}, []string{"vendor"})

	PollOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_outcomes_total",
		Help:      "Terminal states reached by completion pollers.",
	}, []string{"vendor", "outcome"})

	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Wall-clock time spent waiting for remote jobs.",
		Buckets:   pollDurationBuckets,
	}, []string{"vendor"})

	UnknownStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unknown_status_total",
		Help:      "Vendor status strings that had no mapping entry.",
	}, []string{"vendor"})

	// Health
	ConnectorHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connector_healthy",
		Help:      "1 when the last connection check succeeded, 0 otherwise.",
	}, []string{"vendor"})

	ConnectorLastCheckTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connector_last_check_timestamp_seconds",
		Help:      "Unix timestamp of the last connection check.",
	}, []string{"vendor"})
)

// ObserveRequest records one remote call. operation is the HTTP verb for REST
// connectors and the SDK operation name (s3.GetObject) otherwise.
func ObserveRequest(vendor, operation string, start time.Time, outcome string) {
	ConnectorRequestDuration.WithLabelValues(vendor, operation).Observe(time.Since(start).Seconds())
	ConnectorRequestsTotal.WithLabelValues(vendor, operation, outcome).Inc()
}

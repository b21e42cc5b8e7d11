package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the core's Prometheus metrics.
type Collector struct {
	// Relay metrics
	tasksTotal      *prometheus.CounterVec
	tasksInFlight   prometheus.Gauge
	chunksRelayed   prometheus.Counter
	relayDuration   prometheus.Histogram
	sessionFailures *prometheus.CounterVec

	// Registry metrics
	discoveriesTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector registered against reg. A nil reg
// uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of tasks by terminal state and handling path",
		},
		[]string{"state", "path"},
	)

	c.tasksInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of tasks currently between submission and a terminal state",
		},
	)

	c.chunksRelayed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_relayed_total",
			Help:      "Total number of output chunks forwarded to callers",
		},
	)

	c.relayDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_duration_seconds",
			Help:      "End-to-end task duration from submission to terminal state",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.sessionFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Total number of backend session failures by taxonomy kind",
		},
		[]string{"kind"},
	)

	c.discoveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "Total number of backend capability discoveries by outcome",
		},
		[]string{"backend_id", "outcome"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// RecordTaskStart marks one task entering the in-flight window.
func (c *Collector) RecordTaskStart() {
	c.tasksInFlight.Inc()
}

// RecordTaskEnd records a task reaching its terminal state. path is
// "local" or "delegated".
func (c *Collector) RecordTaskEnd(state, path string, duration time.Duration) {
	c.tasksInFlight.Dec()
	c.tasksTotal.WithLabelValues(state, path).Inc()
	c.relayDuration.Observe(duration.Seconds())
}

// RecordChunk counts one chunk forwarded to a caller.
func (c *Collector) RecordChunk() {
	c.chunksRelayed.Inc()
}

// RecordSessionFailure counts a backend session failure by kind.
func (c *Collector) RecordSessionFailure(kind string) {
	c.sessionFailures.WithLabelValues(kind).Inc()
}

// ObserveDiscovery records one discovery attempt. Implements the
// registry's metrics hook.
func (c *Collector) ObserveDiscovery(backendID string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.discoveriesTotal.WithLabelValues(backendID, outcome).Inc()
}

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the thread crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeStatus  = "bad_status"
	OutcomeError   = "error"
	OutcomeParse   = "parse_error"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	itemsFailedTotal           *prometheus.CounterVec
	recordsTotal               prometheus.Counter
	idsDiscoveredTotal         prometheus.Counter
	activeWorkers              *prometheus.GaugeVec
	gateWaitSeconds            prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadcrawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by pipeline stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadcrawler_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		itemsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadcrawler_items_failed_total",
				Help: "Pages or threads skipped after exhausting their attempts.",
			},
			[]string{"stage"},
		)

		recordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "threadcrawler_records_total",
				Help: "Records written to the sink.",
			},
		)

		idsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "threadcrawler_ids_discovered_total",
				Help: "Thread ids pushed onto the id queue by listing workers.",
			},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threadcrawler_active_workers",
				Help: "Number of running workers, labeled by stage.",
			},
			[]string{"stage"},
		)

		gateWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "threadcrawler_gate_wait_seconds",
				Help:    "Histogram of time spent waiting on the shared rate gate.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetch attempt and the bytes it returned.
func ObserveFetch(stage, outcome, rawURL string, bytesFetched int) {
	Init()
	fetchAttemptsTotal.WithLabelValues(stage, outcome).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveItemFailed counts a page or thread that was given up on.
func ObserveItemFailed(stage string) {
	Init()
	itemsFailedTotal.WithLabelValues(stage).Inc()
}

// ObserveRecord counts a record handed to the sink.
func ObserveRecord() {
	Init()
	recordsTotal.Inc()
}

// ObserveDiscovered counts ids pushed onto the queue.
func ObserveDiscovered(n int) {
	Init()
	idsDiscoveredTotal.Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(stage string) {
	Init()
	activeWorkers.WithLabelValues(stage).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(stage string) {
	Init()
	activeWorkers.WithLabelValues(stage).Dec()
}

// ObserveGateWait records how long a caller waited on the rate gate.
func ObserveGateWait(duration time.Duration) {
	Init()
	gateWaitSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the scraper pool.
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

var (
	scraperItemsTotal          *prometheus.CounterVec
	scraperItemDurationSeconds *prometheus.HistogramVec
	scraperContentBytesTotal   *prometheus.CounterVec
	scraperNavigationsInFlight prometheus.Gauge
	scraperActiveWorkers       prometheus.Gauge
	scraperRunsTotal           *prometheus.CounterVec
	scraperSessionErrorsTotal  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_total",
				Help: "Total number of work items processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scraperItemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_item_duration_seconds",
				Help:    "Navigate plus content retrieval latency per item, labeled by outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		scraperContentBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_content_bytes_total",
				Help: "Total bytes of page content retrieved, labeled by site.",
			},
			[]string{"site"},
		)

		scraperNavigationsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_navigations_in_flight",
				Help: "Number of page navigations currently in flight.",
			},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently draining the queue.",
			},
		)

		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total number of pool runs, labeled by result.",
			},
			[]string{"result"},
		)

		scraperSessionErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_session_errors_total",
				Help: "Fatal session errors, labeled by startup stage.",
			},
			[]string{"stage"},
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

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveItem records the outcome of one processed item. Outcome is
// "success" or an item error kind.
func ObserveItem(rawURL, outcome string, contentBytes int, duration time.Duration) {
	if scraperItemsTotal == nil {
		return
	}
	site := SanitizeSite(rawURL)
	scraperItemsTotal.WithLabelValues(site, outcome).Inc()
	scraperItemDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if contentBytes > 0 {
		scraperContentBytesTotal.WithLabelValues(site).Add(float64(contentBytes))
	}
}

// IncNavigations marks a navigation as started.
func IncNavigations() {
	if scraperNavigationsInFlight != nil {
		scraperNavigationsInFlight.Inc()
	}
}

// DecNavigations marks a navigation as finished.
func DecNavigations() {
	if scraperNavigationsInFlight != nil {
		scraperNavigationsInFlight.Dec()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if scraperActiveWorkers != nil {
		scraperActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if scraperActiveWorkers != nil {
		scraperActiveWorkers.Dec()
	}
}

// ObserveRun increments the run counter for the given result.
func ObserveRun(result string) {
	if scraperRunsTotal != nil {
		scraperRunsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveSessionError counts a fatal startup failure.
func ObserveSessionError(stage string) {
	if scraperSessionErrorsTotal != nil {
		scraperSessionErrorsTotal.WithLabelValues(stage).Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	crawlerItemsTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerRetriesTotal           *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerInflightFetches        *prometheus.GaugeVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times. Observations made before
// Init are dropped.
func Init() {
	once.Do(func() {
		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Total number of crawl items emitted, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes stored, labeled by type.",
			},
			[]string{"type"},
		)

		crawlerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by fetcher kind.",
			},
			[]string{"kind"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies including retries, labeled by fetcher kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 90},
			},
			[]string{"kind"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerInflightFetches = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_inflight_fetches",
				Help: "Number of fetches currently running, labeled by pool.",
			},
			[]string{"pool"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests to the metrics server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of metrics server latencies, labeled by method and route.",
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

// Recorder adapts the package collectors to the crawler's observer hooks.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// ObserveItem counts one emitted item.
func (Recorder) ObserveItem(typ, status string, size int64) {
	ObserveItem(typ, status, size)
}

// ObserveRetry counts one retry.
func (Recorder) ObserveRetry(kind string) {
	ObserveRetry(kind)
}

// ObserveFetch records one logical fetch.
func (Recorder) ObserveFetch(kind string, d time.Duration) {
	ObserveFetch(kind, d)
}

// FetchStarted bumps the in-flight gauge for pool.
func (Recorder) FetchStarted(pool string) {
	if crawlerInflightFetches != nil {
		crawlerInflightFetches.WithLabelValues(pool).Inc()
	}
}

// FetchFinished drops the in-flight gauge for pool.
func (Recorder) FetchFinished(pool string) {
	if crawlerInflightFetches != nil {
		crawlerInflightFetches.WithLabelValues(pool).Dec()
	}
}

// ObserveItem increments the item counters.
func ObserveItem(typ, status string, size int64) {
	if crawlerItemsTotal == nil {
		return
	}
	if typ == "" {
		typ = "none"
	}
	crawlerItemsTotal.WithLabelValues(typ, status).Inc()
	if size > 0 {
		crawlerBytesTotal.WithLabelValues(typ).Add(float64(size))
	}
}

// ObserveRetry increments the retry counter for kind.
func ObserveRetry(kind string) {
	if crawlerRetriesTotal == nil {
		return
	}
	crawlerRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch records the duration of a fetch.
func ObserveFetch(kind string, d time.Duration) {
	if crawlerFetchDurationSeconds == nil {
		return
	}
	crawlerFetchDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if crawlerRateLimitDelaysSeconds == nil {
		return
	}
	crawlerRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

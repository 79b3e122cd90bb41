// Package metrics exposes Prometheus collectors for the crawler.
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
	fetchRequestsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	backoffDelaysSeconds       *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	stagedTotal                *prometheus.CounterVec
	documentsTotal             *prometheus.CounterVec
	sessionErrors              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igocrawler_fetch_requests_total",
				Help: "Outbound requests, labeled by site and status class.",
			},
			[]string{"site", "status_class"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igocrawler_fetch_bytes_total",
				Help: "Response bytes received, labeled by site.",
			},
			[]string{"site"},
		)

		backoffDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "igocrawler_backoff_delay_seconds",
				Help:    "Waits spent backing off after throttled or timed-out requests.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"site"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "igocrawler_rate_limit_delay_seconds",
				Help:    "Waits introduced by the per-host rate limiter.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		stagedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igocrawler_staged_total",
				Help: "Rows inserted into staging tables, labeled by organization and kind (url, document).",
			},
			[]string{"organization", "kind"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "igocrawler_documents_total",
				Help: "Download outcomes, labeled by organization and outcome.",
			},
			[]string{"organization", "outcome"},
		)

		sessionErrors = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "igocrawler_session_errors",
				Help: "Errors logged in the current session.",
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

// StatusClass groups a status code as 2xx..5xx, or "error" for transport
// failures (code 0).
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code == http.StatusTooManyRequests:
		return "429"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "error"
	}
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound request.
func ObserveFetch(rawURL string, code int, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchRequestsTotal.WithLabelValues(site, StatusClass(code)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveBackoff records a backoff wait.
func ObserveBackoff(rawURL string, delay time.Duration) {
	Init()
	backoffDelaysSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(delay.Seconds())
}

// ObserveRateLimitDelay records a wait imposed by the per-host limiter.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveStaged counts staging inserts.
func ObserveStaged(organization, kind string, n int) {
	Init()
	if n <= 0 {
		return
	}
	stagedTotal.WithLabelValues(organization, kind).Add(float64(n))
}

// ObserveDocument counts a download outcome.
func ObserveDocument(organization, outcome string) {
	Init()
	documentsTotal.WithLabelValues(organization, outcome).Inc()
}

// SetSessionErrors publishes the session error counter.
func SetSessionErrors(n int64) {
	Init()
	sessionErrors.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

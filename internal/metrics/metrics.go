// Package metrics exposes Prometheus collectors for the clipper service.
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
	clipperPagesTotal             *prometheus.CounterVec
	clipperBytesTotal             *prometheus.CounterVec
	clipperAssetsTotal            *prometheus.CounterVec
	clipperStrategyTotal          *prometheus.CounterVec
	clipperFetchFallbacksTotal    *prometheus.CounterVec
	clipperActiveRuns             prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	clipperRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		clipperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipper_pages_total",
				Help: "Total number of pages clipped, labeled by site and outcome status.",
			},
			[]string{"site", "status"},
		)

		clipperBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipper_bytes_total",
				Help: "Total number of page bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		clipperAssetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipper_assets_total",
				Help: "Total number of media references processed, labeled by result.",
			},
			[]string{"status"},
		)

		clipperStrategyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipper_strategy_total",
				Help: "Conversions accepted per markdown strategy.",
			},
			[]string{"strategy"},
		)

		clipperFetchFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipper_fetch_fallbacks_total",
				Help: "Silent fallbacks taken by the pipeline, labeled by kind.",
			},
			[]string{"kind"},
		)

		clipperActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "clipper_active_runs",
				Help: "Number of pipeline runs currently in flight.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)

		clipperRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clipper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts one clipped page and the bytes fetched for it.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	clipperPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		clipperBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveAsset counts one media reference by result (stored, reused, failed).
func ObserveAsset(status string) {
	Init()
	clipperAssetsTotal.WithLabelValues(status).Inc()
}

// ObserveStrategy counts the markdown strategy that produced a draft.
func ObserveStrategy(strategy string) {
	Init()
	clipperStrategyTotal.WithLabelValues(strategy).Inc()
}

// ObserveFallback counts a silent fallback such as a failed canonical refetch.
func ObserveFallback(kind string) {
	Init()
	clipperFetchFallbacksTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveRuns increments the in-flight runs gauge.
func IncActiveRuns() {
	Init()
	clipperActiveRuns.Inc()
}

// DecActiveRuns decrements the in-flight runs gauge.
func DecActiveRuns() {
	Init()
	clipperActiveRuns.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	clipperRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// Package metrics exposes Prometheus collectors for the crawl orchestrator.
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
	providerRequestsTotal      *prometheus.CounterVec
	providerRequestSeconds     *prometheus.HistogramVec
	jobsTriggeredTotal         *prometheus.CounterVec
	jobsFinishedTotal          *prometheus.CounterVec
	resultsTotal               *prometheus.CounterVec
	scheduledRunsTotal         *prometheus.CounterVec
	sweepDurationSeconds       prometheus.Histogram
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		providerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_crawl_provider_requests_total",
				Help: "Calls to the crawl provider, labeled by host, operation and outcome.",
			},
			[]string{"host", "operation", "outcome"},
		)

		providerRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "social_crawl_provider_request_duration_seconds",
				Help:    "Latency of crawl provider calls, labeled by operation.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		)

		jobsTriggeredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_crawl_jobs_triggered_total",
				Help: "Crawl trigger attempts, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		jobsFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_crawl_jobs_finished_total",
				Help: "Jobs reaching a terminal status, labeled by platform and status.",
			},
			[]string{"platform", "status"},
		)

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_crawl_results_total",
				Help: "Result rows processed by the integrator, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		scheduledRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_crawl_scheduled_runs_total",
				Help: "Scheduled action executions, labeled by action and outcome.",
			},
			[]string{"action", "outcome"},
		)

		sweepDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "social_crawl_sweep_duration_seconds",
				Help:    "Wall time of completion sweeps.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "social_crawl_active_workers",
				Help: "Number of sweep workers currently processing a job.",
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

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "social_crawl_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the outbound rate limiter, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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

// ObserveProviderRequest records one provider call against baseURL.
func ObserveProviderRequest(baseURL, operation, outcome string, duration time.Duration) {
	Init()
	providerRequestsTotal.WithLabelValues(SanitizeSite(baseURL), operation, outcome).Inc()
	providerRequestSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveJobTriggered counts a trigger attempt.
func ObserveJobTriggered(platform, outcome string) {
	Init()
	jobsTriggeredTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveJobFinished counts a job reaching a terminal status.
func ObserveJobFinished(platform, status string) {
	Init()
	jobsFinishedTotal.WithLabelValues(platform, status).Inc()
}

// ObserveResults adds n processed results for platform and outcome.
func ObserveResults(platform, outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	resultsTotal.WithLabelValues(platform, outcome).Add(float64(n))
}

// ObserveScheduledRun counts a scheduled action execution.
func ObserveScheduledRun(action, outcome string) {
	Init()
	scheduledRunsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveSweep records the duration of a completion sweep.
func ObserveSweep(duration time.Duration) {
	Init()
	sweepDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited for a token.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

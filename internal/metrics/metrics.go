// Package metrics exposes Prometheus collectors for the aggregator service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_upstream_requests_total",
			Help: "Total number of upstream GET requests, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	upstreamRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregator_upstream_request_duration_seconds",
			Help:    "Histogram of upstream GET latencies, labeled by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"site"},
	)

	ruleRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_rule_records_total",
			Help: "Total number of records produced, labeled by rule origin.",
		},
		[]string{"origin"},
	)

	rulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_rules_total",
			Help: "Total number of rule executions, labeled by origin and status.",
		},
		[]string{"origin", "status"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_runs_total",
			Help: "Total number of aggregation runs, labeled by status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregator_run_duration_seconds",
			Help:    "Histogram of aggregation run durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregator_rate_limit_delay_seconds",
			Help:    "Time upstream requests waited on the per-host rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"site"},
	)

	storedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregator_stored_records",
			Help: "Number of records in the most recently persisted collection.",
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
)

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

// ObserveUpstreamRequest records one upstream GET.
func ObserveUpstreamRequest(rawURL string, outcome string, duration time.Duration) {
	site := SanitizeSite(rawURL)
	upstreamRequestsTotal.WithLabelValues(site, outcome).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveRule records the outcome of one rule execution.
func ObserveRule(origin string, status string, records int) {
	rulesTotal.WithLabelValues(origin, status).Inc()
	if records > 0 {
		ruleRecordsTotal.WithLabelValues(origin).Add(float64(records))
	}
}

// ObserveRun records a finished aggregation run.
func ObserveRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting for a per-host token.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(site).Observe(delay.Seconds())
}

// SetStoredRecords sets the size of the persisted collection.
func SetStoredRecords(n int) {
	storedRecords.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

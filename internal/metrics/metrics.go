// Package metrics exposes Prometheus collectors for the permit watcher.
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
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	acquiredPagesTotal         *prometheus.CounterVec
	acquiredBytesTotal         *prometheus.CounterVec
	strategyFailuresTotal      *prometheus.CounterVec
	permitsDiscoveredTotal     prometheus.Counter
	permitsNewTotal            prometheus.Counter
	extractRowsSkippedTotal    prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	subscriptionsPrunedTotal   prometheus.Counter
	pushRateLimitDelaySeconds  prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitwatch_runs_total",
				Help: "Total number of pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "permitwatch_run_duration_seconds",
				Help:    "Histogram of pipeline run durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)

		acquiredPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitwatch_acquired_pages_total",
				Help: "Total number of result pages acquired, labeled by site and strategy.",
			},
			[]string{"site", "strategy"},
		)

		acquiredBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitwatch_acquired_bytes_total",
				Help: "Total number of bytes acquired, labeled by site.",
			},
			[]string{"site"},
		)

		strategyFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitwatch_strategy_failures_total",
				Help: "Total number of acquisition strategy failures, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		permitsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitwatch_permits_discovered_total",
				Help: "Total number of permit rows extracted, new or not.",
			},
		)

		permitsNewTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitwatch_permits_new_total",
				Help: "Total number of permits admitted to the store for the first time.",
			},
		)

		extractRowsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitwatch_extract_rows_skipped_total",
				Help: "Total number of table rows skipped during extraction.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitwatch_notifications_total",
				Help: "Total number of push dispatch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		subscriptionsPrunedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "permitwatch_subscriptions_pruned_total",
				Help: "Total number of subscriptions deleted after repeated delivery failures.",
			},
		)

		pushRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "permitwatch_push_rate_limit_delay_seconds",
				Help:    "Histogram of push dispatch rate limit waits.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
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

// ObserveRun records the outcome and duration of one pipeline run.
func ObserveRun(outcome string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObservePage records one acquired result page.
func ObservePage(pageURL, strategy string, size int) {
	Init()
	site := SanitizeSite(pageURL)
	acquiredPagesTotal.WithLabelValues(site, strategy).Inc()
	if size > 0 {
		acquiredBytesTotal.WithLabelValues(site).Add(float64(size))
	}
}

// ObserveStrategyFailure increments the failure counter for a strategy.
func ObserveStrategyFailure(strategy string) {
	Init()
	strategyFailuresTotal.WithLabelValues(strategy).Inc()
}

// ObserveExtraction records extracted and skipped row counts for one page.
func ObserveExtraction(records, skipped int) {
	Init()
	permitsDiscoveredTotal.Add(float64(records))
	extractRowsSkippedTotal.Add(float64(skipped))
}

// ObserveNewPermits records permits admitted for the first time.
func ObserveNewPermits(n int) {
	Init()
	permitsNewTotal.Add(float64(n))
}

// ObserveNotification increments the dispatch counter for an outcome.
func ObserveNotification(outcome string) {
	Init()
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSubscriptionPruned counts a subscription removed for failing delivery.
func ObserveSubscriptionPruned() {
	Init()
	subscriptionsPrunedTotal.Inc()
}

// ObservePushRateLimitDelay records the duration of a dispatch pacing wait.
func ObservePushRateLimitDelay(duration time.Duration) {
	Init()
	pushRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

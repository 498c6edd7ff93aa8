// Package metrics exposes Prometheus collectors for the shop finder.
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

	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
)

// Record outcomes.
const (
	RecordSaved     = "saved"
	RecordError     = "error"
	RecordDuplicate = "duplicate"
)

var (
	postalCodesTotal           *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	locatorResolutionsTotal    *prometheus.CounterVec
	convergenceRounds          prometheus.Histogram
	convergenceStopsTotal      *prometheus.CounterVec
	sessionFallbacksTotal      prometheus.Counter
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		postalCodesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopfinder_postal_codes_total",
				Help: "Postal codes processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopfinder_records_total",
				Help: "Detail links handled, labeled by status (saved, error, duplicate).",
			},
			[]string{"status"},
		)

		locatorResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopfinder_locator_resolutions_total",
				Help: "Field resolutions, labeled by field, whether it was found, and the winning candidate index.",
			},
			[]string{"field", "found", "candidate"},
		)

		convergenceRounds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shopfinder_convergence_rounds",
				Help:    "Rounds needed until the result list stopped growing.",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 16, 20, 25},
			},
		)

		convergenceStopsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopfinder_convergence_stops_total",
				Help: "Convergence loops finished, labeled by stop reason.",
			},
			[]string{"reason"},
		)

		sessionFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shopfinder_session_fallbacks_total",
				Help: "Searches that used the direct URL instead of the form.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shopfinder_active_workers",
				Help: "Number of workers currently processing a postal code.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopfinder_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObservePostalCode counts one finished postal code.
func ObservePostalCode(outcome string) {
	postalCodesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecord counts one detail link by status.
func ObserveRecord(status string) {
	recordsTotal.WithLabelValues(status).Inc()
}

// ObserveConvergence records how a convergence loop ended.
func ObserveConvergence(reason string, rounds int) {
	convergenceStopsTotal.WithLabelValues(reason).Inc()
	convergenceRounds.Observe(float64(rounds))
}

// ObserveSessionFallback counts one URL fallback.
func ObserveSessionFallback() {
	sessionFallbacksTotal.Inc()
}

// LocatorObserver returns a locator.Observer that counts resolutions.
func LocatorObserver() locator.Observer {
	return func(field locator.Field, found bool, candidate int) {
		locatorResolutionsTotal.WithLabelValues(string(field), strconv.FormatBool(found), strconv.Itoa(candidate)).Inc()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics exposes process-wide Prometheus collectors for the HTTP
// surface, the scheduler and per-host rate limiting. Run and item counters
// live in the progress Prometheus sink.
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

	"github.com/JakeFAU/linkaudit/internal/scheduler"
)

var (
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	schedulerActive             prometheus.Gauge
	schedulerQueued             prometheus.Gauge
	schedulerPaused             prometheus.Gauge
	auditRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		schedulerActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "linkaudit_scheduler_active",
			Help: "Verification tasks currently holding a concurrency slot.",
		})
		schedulerQueued = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "linkaudit_scheduler_queued",
			Help: "Verification tasks waiting for a slot.",
		})
		schedulerPaused = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "linkaudit_scheduler_paused",
			Help: "1 while the current run is paused.",
		})

		auditRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkaudit_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
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
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	auditRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SchedulerObserver mirrors controller state into gauges.
type SchedulerObserver struct{}

// ObserveState implements scheduler.Observer.
func (SchedulerObserver) ObserveState(state scheduler.State) {
	Init()
	schedulerActive.Set(float64(state.Active))
	schedulerQueued.Set(float64(state.Queued))
	if state.Paused {
		schedulerPaused.Set(1)
	} else {
		schedulerPaused.Set(0)
	}
}

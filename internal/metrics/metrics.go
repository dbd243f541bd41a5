// Package metrics exposes Prometheus collectors for the API service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Action outcomes recorded by ObserveAction.
const (
	OutcomeQueued     = "queued"
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeBadRequest = "bad_request"
	OutcomeForwarded  = "forwarded"
)

var (
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	actionsTotal                 *prometheus.CounterVec
	tasksTotal                   *prometheus.CounterVec
	taskDurationSeconds          *prometheus.HistogramVec
	activeWorkers                prometheus.Gauge
	providerThrottleDelaySeconds *prometheus.HistogramVec

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

		actionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infra_api_actions_total",
				Help: "Total number of API actions, labeled by collection, action, and outcome.",
			},
			[]string{"collection", "action", "outcome"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infra_api_tasks_total",
				Help: "Total number of tasks executed by workers, labeled by method and status.",
			},
			[]string{"method", "status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infra_api_task_duration_seconds",
				Help:    "Histogram of task execution time, labeled by method.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "infra_api_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		providerThrottleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infra_api_provider_throttle_delay_seconds",
				Help:    "Histogram of time spent waiting on per-provider rate limits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		)
	})
}

// ProviderLabel renders a provider id as a metric label.
func ProviderLabel(id *int64) string {
	if id == nil {
		return "none"
	}
	return strconv.FormatInt(*id, 10)
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAction counts an API action result.
func ObserveAction(collection, action, outcome string) {
	actionsTotal.WithLabelValues(collection, action, outcome).Inc()
}

// ObserveTask records a finished task.
func ObserveTask(method, status string, duration time.Duration) {
	tasksTotal.WithLabelValues(method, status).Inc()
	taskDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveThrottleDelay records the duration of a provider rate limit wait.
func ObserveThrottleDelay(provider string, duration time.Duration) {
	providerThrottleDelaySeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transitionHistogram   *prometheus.HistogramVec
	conflictCounter       *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	notificationCounter   *prometheus.CounterVec
	webhookCounter        *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transitionHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_event_duration_seconds",
			Help:    "Latency of escrow events by outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"event", "outcome"})

		conflictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_version_conflicts_total",
			Help: "Optimistic commit conflicts that forced a reload",
		}, []string{"entity"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_notifications_total",
			Help: "Notification intents dispatched by template and result",
		}, []string{"template", "result"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_webhooks_total",
			Help: "Gateway webhook deliveries by outcome",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transitionHistogram,
			conflictCounter,
			idempotencyCounter,
			notificationCounter,
			webhookCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func ObserveTransition(event, outcome string, duration time.Duration) {
	if transitionHistogram == nil {
		return
	}
	transitionHistogram.WithLabelValues(event, outcome).Observe(duration.Seconds())
}

func IncrementConcurrencyConflict(entity string) {
	if conflictCounter == nil {
		return
	}
	conflictCounter.WithLabelValues(entity).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementNotification(template, result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(template, result).Inc()
}

func IncrementWebhook(outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

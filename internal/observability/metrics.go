package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	httpDurationHistogram    *prometheus.HistogramVec
	transferCounter          *prometheus.CounterVec
	transferDuration         *prometheus.HistogramVec
	itemTransitionCounter    *prometheus.CounterVec
	reconciliationRunCounter *prometheus.CounterVec
	webhookEventCounter      *prometheus.CounterVec
	integrityViolationCount  *prometheus.CounterVec
	idempotencyCounter       *prometheus.CounterVec
	queueDepthGauge          prometheus.Gauge
	workerRunCounter         *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_transfers_total",
			Help: "Provider transfer attempts by outcome",
		}, []string{"provider", "result"})

		transferDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payout_transfer_duration_seconds",
			Help:    "Latency of provider transfer calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"provider"})

		itemTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_item_transitions_total",
			Help: "Ledger item status transitions",
		}, []string{"from", "to"})

		reconciliationRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_reconciliation_runs_total",
			Help: "Reconciliation job runs by outcome",
		}, []string{"outcome"})

		webhookEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_webhook_events_total",
			Help: "Webhook deliveries by provider and outcome",
		}, []string{"provider", "outcome"})

		integrityViolationCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payout_integrity_violations_total",
			Help: "Split or fee totals that do not reconcile",
		}, []string{"kind"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payout_queue_depth",
			Help: "Batches waiting in the payout queue",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transferCounter,
			transferDuration,
			itemTransitionCounter,
			reconciliationRunCounter,
			webhookEventCounter,
			integrityViolationCount,
			idempotencyCounter,
			queueDepthGauge,
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

func ObserveTransfer(provider, result string, duration time.Duration) {
	if transferCounter == nil {
		return
	}
	transferCounter.WithLabelValues(provider, result).Inc()
	transferDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func IncrementItemTransition(from, to string) {
	if itemTransitionCounter == nil {
		return
	}
	itemTransitionCounter.WithLabelValues(from, to).Inc()
}

func IncrementReconciliationRun(outcome string) {
	if reconciliationRunCounter == nil {
		return
	}
	reconciliationRunCounter.WithLabelValues(outcome).Inc()
}

func IncrementWebhookEvent(provider, outcome string) {
	if webhookEventCounter == nil {
		return
	}
	webhookEventCounter.WithLabelValues(provider, outcome).Inc()
}

func IncrementIntegrityViolation(kind string) {
	if integrityViolationCount == nil {
		return
	}
	integrityViolationCount.WithLabelValues(kind).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetQueueDepth(depth int64) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.Set(float64(depth))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

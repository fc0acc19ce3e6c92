package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	escrowOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_operations_total",
		Help:      "Escrow coordinator operations by outcome code.",
	}, []string{"operation", "code"})

	escrowLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "escrow_operation_duration_seconds",
		Help:      "Escrow coordinator operation duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Inbound webhook requests by verification outcome.",
	}, []string{"outcome"})

	inboxDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbox_deliveries_total",
		Help:      "Inbox delivery processing results.",
	}, []string{"status"})

	inboxQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inbox_pending_deliveries",
		Help:      "Deliveries waiting for a worker.",
	})
)

// ObserveEscrowOp records one coordinator operation. code is "OK" on success.
func ObserveEscrowOp(operation, code string, duration time.Duration) {
	escrowOps.WithLabelValues(operation, code).Inc()
	escrowLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveWebhook counts an inbound webhook by outcome (verified, unverified,
// rejected, malformed, throttled).
func ObserveWebhook(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

// ObserveDelivery counts a processed inbox delivery by final status.
func ObserveDelivery(status string) {
	inboxDeliveries.WithLabelValues(status).Inc()
}

// SetPendingDeliveries publishes the number of queued deliveries.
func SetPendingDeliveries(n int) {
	inboxQueueDepth.Set(float64(n))
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// state machine transitions that committed
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Committed status transitions by entity and target status",
		},
		[]string{"entity", "to"},
	)

	GatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Payment processor call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"operation", "result"},
	)

	ConsistencyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_consistency_errors_total",
			Help: "Local writes that failed after a processor side effect succeeded",
		},
		[]string{"kind"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Processor webhook deliveries by type and outcome",
		},
		[]string{"type", "result"},
	)

	ReconcileTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_tasks_total",
			Help: "Reconciliation task outcomes by kind",
		},
		[]string{"kind", "result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

func RecordTransition(entity, to string) {
	Transitions.WithLabelValues(entity, to).Inc()
}

func RecordGatewayCall(operation string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayCallDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

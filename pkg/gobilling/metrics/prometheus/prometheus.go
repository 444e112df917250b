package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// Metrics implements gobilling.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	transactionsTotal         *prometheus.CounterVec
	subscriptionTransitions   *prometheus.CounterVec
	gatewayCallsTotal         *prometheus.CounterVec
	gatewayCallDuration       *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation for the billing core.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from the payment gateway.",
		}, []string{"gateway", "kind", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "kind"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook rejections and processing errors.",
		}, []string{"gateway", "error_type"}),

		transactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "transactions_total",
			Help:      "Total number of transaction writes, by idempotency outcome.",
		}, []string{"outcome"}),

		subscriptionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "subscription_transitions_total",
			Help:      "Total number of subscription status transitions.",
		}, []string{"from", "to"}),

		gatewayCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "gateway_calls_total",
			Help:      "Total number of outbound API calls to the payment gateway.",
		}, []string{"gateway", "endpoint", "status"}),

		gatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "gateway_call_duration_seconds",
			Help:      "Duration of outbound gateway calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "endpoint"}),
	}
}

func (m *Metrics) RecordWebhookEvent(gateway, kind, status string) {
	m.webhookEventsTotal.WithLabelValues(gateway, kind, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(gateway, kind string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(gateway, kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(gateway, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(gateway, errorType).Inc()
}

func (m *Metrics) RecordTransactionCreated(outcome string) {
	m.transactionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSubscriptionTransition(from, to string) {
	m.subscriptionTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordGatewayCall(gateway, endpoint, status string) {
	m.gatewayCallsTotal.WithLabelValues(gateway, endpoint, status).Inc()
}

func (m *Metrics) RecordGatewayCallDuration(gateway, endpoint string, duration time.Duration) {
	m.gatewayCallDuration.WithLabelValues(gateway, endpoint).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) gobilling.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

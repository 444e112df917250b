package gobilling

import "time"

// Metrics defines the interface for tracking billing operations.
// All methods are optional - components should gracefully handle nil metrics
// by substituting NoopMetrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the gateway.
	// kind: the dispatched event kind (e.g. "invoice.paid", "unhandled")
	// status: "success" or "error"
	RecordWebhookEvent(gateway, kind, status string)

	// RecordWebhookProcessingDuration records how long a webhook delivery took
	// to authenticate, dispatch, and handle.
	RecordWebhookProcessingDuration(gateway, kind string, duration time.Duration)

	// RecordWebhookError records a webhook rejection or processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "processing_error"
	RecordWebhookError(gateway, errorType string)

	// RecordTransactionCreated records an idempotent transaction write.
	// outcome: "created" for a new record, "duplicate" for an idempotent no-op
	RecordTransactionCreated(outcome string)

	// RecordSubscriptionTransition records a subscription status transition.
	// from is empty when the subscription is first created.
	RecordSubscriptionTransition(from, to string)

	// RecordGatewayCall records an outbound API call to the payment gateway.
	// endpoint: the logical endpoint (e.g. "/checkout/sessions")
	// status: "success" or "error"
	RecordGatewayCall(gateway, endpoint, status string)

	// RecordGatewayCallDuration records how long an outbound gateway call took.
	RecordGatewayCallDuration(gateway, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordTransactionCreated(_ string)                            {}
func (n *NoopMetrics) RecordSubscriptionTransition(_, _ string)                     {}
func (n *NoopMetrics) RecordGatewayCall(_, _, _ string)                             {}
func (n *NoopMetrics) RecordGatewayCallDuration(_, _ string, _ time.Duration)       {}

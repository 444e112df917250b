package gobilling

import (
	"context"
	"net/http"
)

// Gateway is the interface a payment gateway adapter must implement. The
// adapter owns its API client (constructed at process start and injected, no
// ambient singleton), verifies webhook authenticity, and feeds the Manager.
type Gateway interface {
	// Name returns the gateway name (e.g. "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that authenticates and
	// dispatches gateway event deliveries. The handler answers 2xx only once
	// the event has been handled; a handler failure surfaces as a retryable
	// non-2xx so the gateway redelivers.
	WebhookHandler() http.Handler

	// CreateCheckoutSession opens a gateway checkout session for the
	// (user, package) pair. Purely a gateway call - no local state exists
	// until the gateway reports the session complete.
	CreateCheckoutSession(ctx context.Context, userID, packageID string) (*CheckoutIntent, error)

	// VerifySession re-derives the transaction from a session id, as the
	// client-triggered fallback to the webhook path. Both paths converge on
	// the same stored Transaction.
	VerifySession(ctx context.Context, sessionID, userID string) (*Transaction, error)
}

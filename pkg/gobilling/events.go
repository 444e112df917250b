package gobilling

import "time"

// Event is the closed set of gateway notifications the dispatcher routes.
// The gateway adapter decodes the raw provider payload exactly once, at the
// webhook boundary, into one of the variants below. Unknown provider event
// types decode to UnhandledEvent rather than falling through silently.
type Event interface {
	// Kind returns the provider-agnostic event kind tag
	Kind() EventKind

	// OccurredAt returns the gateway's emission timestamp for the event
	OccurredAt() time.Time
}

// EventKind tags an Event variant.
type EventKind string

const (
	KindCheckoutCompleted             EventKind = "checkout.completed"
	KindInvoicePaid                   EventKind = "invoice.paid"
	KindInvoicePaymentFailed          EventKind = "invoice.payment_failed"
	KindSubscriptionDeleted           EventKind = "subscription.deleted"
	KindCheckoutAsyncPaymentFailed    EventKind = "checkout.async_payment_failed"
	KindCheckoutAsyncPaymentSucceeded EventKind = "checkout.async_payment_succeeded"
	KindCheckoutExpired               EventKind = "checkout.expired"
	KindUnhandled                     EventKind = "unhandled"
)

// EventHeader carries the fields every variant shares.
type EventHeader struct {
	// Timestamp is the gateway's emission time, used for ordering guards
	Timestamp time.Time
}

// OccurredAt implements Event.
func (h EventHeader) OccurredAt() time.Time { return h.Timestamp }

// CheckoutSessionCompleted signals that a checkout session finished at the
// gateway. PaymentPaid and SessionDone both being true is the only
// terminal combination; anything else is a partial state the recorder ignores.
type CheckoutSessionCompleted struct {
	EventHeader

	SessionID      string
	PackageID      string // from session metadata
	UserID         string // from session metadata
	SubscriptionID string // empty for one-time purchases
	PaymentPaid    bool   // gateway payment_status == "paid"
	SessionDone    bool   // gateway status == "complete"
}

func (CheckoutSessionCompleted) Kind() EventKind { return KindCheckoutCompleted }

// InvoicePaid signals a successful recurring charge for a subscription.
type InvoicePaid struct {
	EventHeader

	SubscriptionID string
}

func (InvoicePaid) Kind() EventKind { return KindInvoicePaid }

// InvoicePaymentFailed signals a failed recurring charge.
type InvoicePaymentFailed struct {
	EventHeader

	SubscriptionID string
}

func (InvoicePaymentFailed) Kind() EventKind { return KindInvoicePaymentFailed }

// SubscriptionDeleted signals the gateway removed a subscription.
type SubscriptionDeleted struct {
	EventHeader

	SubscriptionID string
}

func (SubscriptionDeleted) Kind() EventKind { return KindSubscriptionDeleted }

// CheckoutAsyncPaymentFailed signals a delayed payment method failed after
// the session completed. Logged and acknowledged; no state change.
type CheckoutAsyncPaymentFailed struct {
	EventHeader

	SessionID string
}

func (CheckoutAsyncPaymentFailed) Kind() EventKind { return KindCheckoutAsyncPaymentFailed }

// CheckoutAsyncPaymentSucceeded signals a delayed payment method succeeded.
type CheckoutAsyncPaymentSucceeded struct {
	EventHeader

	SessionID string
}

func (CheckoutAsyncPaymentSucceeded) Kind() EventKind { return KindCheckoutAsyncPaymentSucceeded }

// CheckoutSessionExpired signals an abandoned checkout session.
type CheckoutSessionExpired struct {
	EventHeader

	SessionID string
}

func (CheckoutSessionExpired) Kind() EventKind { return KindCheckoutExpired }

// UnhandledEvent is the explicit variant for provider event types the core
// does not process. The dispatcher logs and acknowledges these so the gateway
// does not retry them; this is the extension point for new event kinds.
type UnhandledEvent struct {
	EventHeader

	// ProviderType is the provider's raw event type string
	ProviderType string
}

func (UnhandledEvent) Kind() EventKind { return KindUnhandled }

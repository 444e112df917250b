package gobilling

import "time"

// BillingPeriod describes how a package bills.
type BillingPeriod string

const (
	// BillingPeriodOneTime represents a single, non-recurring purchase
	BillingPeriodOneTime BillingPeriod = "one-time"
	// BillingPeriodMonth represents a monthly recurring purchase
	BillingPeriodMonth BillingPeriod = "month"
	// BillingPeriodYear represents a yearly recurring purchase
	BillingPeriodYear BillingPeriod = "year"
)

// Recurring reports whether the period results in a gateway subscription.
func (p BillingPeriod) Recurring() bool {
	return p == BillingPeriodMonth || p == BillingPeriodYear
}

// Package is a catalog entry describing a purchasable plan.
// Packages are read-only to the billing core; Amount and Currency are copied
// onto each Transaction at purchase time so later catalog edits never alter
// historical records.
type Package struct {
	// PackageID is the unique catalog identifier (e.g. "pkg_pro")
	PackageID string

	// Name is the display name of the package
	Name string

	// Price is the package price in minor currency units (cents)
	Price int64

	// Currency is the ISO currency code (e.g. "usd")
	Currency string

	// BillingPeriod determines the checkout mode (subscription vs one-time)
	BillingPeriod BillingPeriod

	// GatewayPriceRef is the opaque price identifier the payment gateway understands
	// (a Stripe Price ID for the Stripe gateway)
	GatewayPriceRef string
}

// TransactionStatus is the terminal status of a recorded checkout.
// Failed and pending checkouts are never persisted, so "completed" is the
// only status that reaches storage.
type TransactionStatus string

const (
	// TransactionCompleted is the status of every persisted transaction
	TransactionCompleted TransactionStatus = "completed"
)

// Transaction records one completed checkout. Transactions are append-only:
// created exactly once, keyed by the gateway's checkout session identifier,
// and never mutated afterwards.
type Transaction struct {
	// UserID references the purchasing user (owned by the identity service)
	UserID string

	// PackageID references the purchased catalog package
	PackageID string

	// GatewaySessionID is the unique idempotency key: at most one Transaction
	// may exist per checkout session, however many times the originating
	// event is delivered
	GatewaySessionID string

	// GatewaySubscriptionID is set only for recurring purchases
	GatewaySubscriptionID string

	// Amount is the price in minor currency units, copied from the Package
	// at purchase time
	Amount int64

	// Currency is the ISO currency code, copied from the Package at purchase time
	Currency string

	// Status is always TransactionCompleted for persisted records
	Status TransactionStatus

	// CreatedAt is when the transaction was first recorded
	CreatedAt time.Time
}

// SubscriptionStatus is the gateway's last-known recurring-billing state.
type SubscriptionStatus string

const (
	// SubscriptionActive means the gateway reports the subscription as active
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionExpired means the gateway reports a lapsed or failed subscription
	SubscriptionExpired SubscriptionStatus = "expired"
	// SubscriptionCanceled means the gateway deleted the subscription
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is the current recurring-billing state for a user. At most one
// Subscription exists per user; a new purchase supersedes the previous record
// in place. Status follows the most recently processed gateway event and is
// never inferred from dates.
type Subscription struct {
	// UserID is the unique upsert key
	UserID string

	// PackageID references the catalog package the subscription was opened for
	PackageID string

	// GatewaySubscriptionID is the gateway's subscription identifier
	GatewaySubscriptionID string

	// Status is the gateway's last-known state
	Status SubscriptionStatus

	// CurrentPeriodEnd is the end of the current billing period as reported
	// by the gateway. Advisory only.
	CurrentPeriodEnd time.Time

	// UpdatedAt carries the gateway timestamp of the last applied event.
	// Reconciliation skips events that are not newer than this value, which
	// is what makes re-delivery and re-ordering converge.
	UpdatedAt time.Time
}

// CheckoutIntent is the result of creating a gateway checkout session.
// No local state exists yet; the session id only becomes an idempotency key
// once the gateway reports the session complete.
type CheckoutIntent struct {
	// SessionID is the gateway checkout session identifier
	SessionID string

	// URL is the gateway-hosted checkout page the client should redirect to
	URL string
}

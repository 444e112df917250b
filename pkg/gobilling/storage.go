package gobilling

import "context"

// Storage defines the persistence contract for the billing core.
//
// The two write primitives are the correctness boundary for concurrent webhook
// deliveries: CreateTransaction is an atomic create-if-absent keyed by the
// gateway session id, and UpsertSubscription runs its mutator atomically with
// respect to other writers of the same user key. No in-process lock can
// substitute for these because multiple process instances may serve the same
// webhook endpoint.
type Storage interface {
	// CreateTransaction persists tx unless a transaction with the same
	// GatewaySessionID already exists. Returns the stored transaction (the
	// new one or the pre-existing one) and whether a new record was created.
	// A duplicate is not an error: the losing side of a race treats the
	// existing record as success.
	CreateTransaction(ctx context.Context, tx *Transaction) (*Transaction, bool, error)

	// TransactionBySessionID retrieves a transaction by gateway session id.
	// Returns ErrTransactionNotFound if none exists.
	TransactionBySessionID(ctx context.Context, sessionID string) (*Transaction, error)

	// LatestTransactionByUser retrieves the most recently created transaction
	// for a user. Returns ErrTransactionNotFound if the user has none.
	LatestTransactionByUser(ctx context.Context, userID string) (*Transaction, error)

	// UpsertSubscription atomically applies mutate to the user's subscription.
	// mutate receives the existing record (nil if none) and returns the record
	// to store. Returning (nil, nil) skips the write, which is how stale
	// events are dropped. The stored record is returned; (nil, nil) from the
	// mutator yields (existing, nil).
	UpsertSubscription(ctx context.Context, userID string, mutate func(existing *Subscription) (*Subscription, error)) (*Subscription, error)

	// SubscriptionByUserID retrieves the subscription for a user.
	// Returns ErrSubscriptionNotFound if none exists.
	SubscriptionByUserID(ctx context.Context, userID string) (*Subscription, error)

	// SubscriptionByGatewayID retrieves the subscription holding a gateway
	// subscription id. Returns ErrSubscriptionNotFound if none exists.
	SubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*Subscription, error)
}

// Catalog is the read-only package lookup consumed by the billing core.
// The catalog is owned elsewhere; the core never writes it.
type Catalog interface {
	// FindPackage retrieves a package by id.
	// Returns ErrPackageNotFound if none exists.
	FindPackage(ctx context.Context, packageID string) (*Package, error)

	// ListPackages returns all catalog packages.
	ListPackages(ctx context.Context) ([]*Package, error)
}

// CatalogStore extends Catalog with the write primitive storage backends use
// for seeding and operational catalog loading. Plan authoring is not a core
// concern; this exists so deployments can populate the reference table.
type CatalogStore interface {
	Catalog

	// PutPackage stores or replaces a package by PackageID.
	PutPackage(ctx context.Context, pkg *Package) error
}

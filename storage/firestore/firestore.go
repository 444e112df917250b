// Package firestore provides a Firestore implementation of the gobilling
// storage and catalog interfaces. Transaction creation relies on Firestore's
// Create precondition (fails with AlreadyExists when the session document is
// present), and subscription upserts run inside Firestore transactions.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// Storage implements gobilling.Storage and gobilling.CatalogStore using
// Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	transactionsCollection  string
	subscriptionsCollection string
	packagesCollection      string
}

// Config holds Firestore storage configuration
type Config struct {
	// TransactionsCollection is the Firestore collection for billing transactions
	// Default: "billing_transactions"
	TransactionsCollection string

	// SubscriptionsCollection is the Firestore collection for user subscriptions
	// Default: "billing_subscriptions"
	SubscriptionsCollection string

	// PackagesCollection is the Firestore collection for the pricing catalog
	// Default: "billing_packages"
	PackagesCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.TransactionsCollection == "" {
		config.TransactionsCollection = "billing_transactions"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.PackagesCollection == "" {
		config.PackagesCollection = "billing_packages"
	}

	return &Storage{
		client:                  client,
		transactionsCollection:  config.TransactionsCollection,
		subscriptionsCollection: config.SubscriptionsCollection,
		packagesCollection:      config.PackagesCollection,
	}, nil
}

// transactionDoc is the Firestore document shape for billing transactions
type transactionDoc struct {
	UserID                string    `firestore:"user_id"`
	PackageID             string    `firestore:"package_id"`
	GatewaySessionID      string    `firestore:"gateway_session_id"`
	GatewaySubscriptionID string    `firestore:"gateway_subscription_id"`
	Amount                int64     `firestore:"amount"`
	Currency              string    `firestore:"currency"`
	Status                string    `firestore:"status"`
	CreatedAt             time.Time `firestore:"created_at"`
}

// subscriptionDoc is the Firestore document shape for user subscriptions
type subscriptionDoc struct {
	UserID                string    `firestore:"user_id"`
	PackageID             string    `firestore:"package_id"`
	GatewaySubscriptionID string    `firestore:"gateway_subscription_id"`
	Status                string    `firestore:"status"`
	CurrentPeriodEnd      time.Time `firestore:"current_period_end"`
	UpdatedAt             time.Time `firestore:"updated_at"`
}

// packageDoc is the Firestore document shape for catalog packages
type packageDoc struct {
	PackageID       string `firestore:"package_id"`
	Name            string `firestore:"name"`
	Price           int64  `firestore:"price"`
	Currency        string `firestore:"currency"`
	BillingPeriod   string `firestore:"billing_period"`
	GatewayPriceRef string `firestore:"gateway_price_ref"`
}

// CreateTransaction implements gobilling.Storage
func (s *Storage) CreateTransaction(ctx context.Context, txn *gobilling.Transaction) (*gobilling.Transaction, bool, error) {
	if txn == nil || txn.GatewaySessionID == "" {
		return nil, false, fmt.Errorf("invalid transaction")
	}

	doc := s.client.Collection(s.transactionsCollection).Doc(txn.GatewaySessionID)
	_, err := doc.Create(ctx, toTransactionDoc(txn))
	if err == nil {
		result := *txn
		return &result, true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return nil, false, fmt.Errorf("failed to create transaction: %w", err)
	}

	// Another delivery of the same session already won
	existing, err := s.TransactionBySessionID(ctx, txn.GatewaySessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing transaction: %w", err)
	}
	return existing, false, nil
}

// TransactionBySessionID implements gobilling.Storage
func (s *Storage) TransactionBySessionID(ctx context.Context, sessionID string) (*gobilling.Transaction, error) {
	snap, err := s.client.Collection(s.transactionsCollection).Doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gobilling.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	var doc transactionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	return fromTransactionDoc(&doc), nil
}

// LatestTransactionByUser implements gobilling.Storage
func (s *Storage) LatestTransactionByUser(ctx context.Context, userID string) (*gobilling.Transaction, error) {
	iter := s.client.Collection(s.transactionsCollection).
		Where("user_id", "==", userID).
		OrderBy("created_at", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, gobilling.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	var doc transactionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	return fromTransactionDoc(&doc), nil
}

// UpsertSubscription implements gobilling.Storage
func (s *Storage) UpsertSubscription(ctx context.Context, userID string, mutate func(existing *gobilling.Subscription) (*gobilling.Subscription, error)) (*gobilling.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	docRef := s.client.Collection(s.subscriptionsCollection).Doc(userID)
	var result *gobilling.Subscription

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var existing *gobilling.Subscription
		snap, err := tx.Get(docRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to get subscription: %w", err)
		}
		if err == nil {
			var doc subscriptionDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("failed to parse subscription: %w", err)
			}
			existing = fromSubscriptionDoc(&doc)
		}

		next, err := mutate(existing)
		if err != nil {
			return err
		}
		if next == nil {
			// Mutator declined the write
			result = existing
			return nil
		}

		updated := *next
		updated.UserID = userID
		if err := tx.Set(docRef, toSubscriptionDoc(&updated)); err != nil {
			return fmt.Errorf("failed to set subscription: %w", err)
		}
		result = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SubscriptionByUserID implements gobilling.Storage
func (s *Storage) SubscriptionByUserID(ctx context.Context, userID string) (*gobilling.Subscription, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gobilling.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var doc subscriptionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse subscription: %w", err)
	}
	return fromSubscriptionDoc(&doc), nil
}

// SubscriptionByGatewayID implements gobilling.Storage
func (s *Storage) SubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*gobilling.Subscription, error) {
	iter := s.client.Collection(s.subscriptionsCollection).
		Where("gateway_subscription_id", "==", gatewaySubscriptionID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, gobilling.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}

	var doc subscriptionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse subscription: %w", err)
	}
	return fromSubscriptionDoc(&doc), nil
}

// FindPackage implements gobilling.Catalog
func (s *Storage) FindPackage(ctx context.Context, packageID string) (*gobilling.Package, error) {
	snap, err := s.client.Collection(s.packagesCollection).Doc(packageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gobilling.ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	var doc packageDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse package: %w", err)
	}
	return fromPackageDoc(&doc), nil
}

// ListPackages implements gobilling.Catalog
func (s *Storage) ListPackages(ctx context.Context) ([]*gobilling.Package, error) {
	iter := s.client.Collection(s.packagesCollection).Documents(ctx)
	defer iter.Stop()

	var packages []*gobilling.Package
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list packages: %w", err)
		}

		var doc packageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse package: %w", err)
		}
		packages = append(packages, fromPackageDoc(&doc))
	}
	return packages, nil
}

// PutPackage implements gobilling.CatalogStore
func (s *Storage) PutPackage(ctx context.Context, pkg *gobilling.Package) error {
	if pkg == nil || pkg.PackageID == "" {
		return fmt.Errorf("invalid package")
	}

	_, err := s.client.Collection(s.packagesCollection).Doc(pkg.PackageID).Set(ctx, toPackageDoc(pkg))
	if err != nil {
		return fmt.Errorf("failed to store package: %w", err)
	}
	return nil
}

// Document conversions

func toTransactionDoc(txn *gobilling.Transaction) transactionDoc {
	return transactionDoc{
		UserID:                txn.UserID,
		PackageID:             txn.PackageID,
		GatewaySessionID:      txn.GatewaySessionID,
		GatewaySubscriptionID: txn.GatewaySubscriptionID,
		Amount:                txn.Amount,
		Currency:              txn.Currency,
		Status:                string(txn.Status),
		CreatedAt:             txn.CreatedAt.UTC(),
	}
}

func fromTransactionDoc(doc *transactionDoc) *gobilling.Transaction {
	return &gobilling.Transaction{
		UserID:                doc.UserID,
		PackageID:             doc.PackageID,
		GatewaySessionID:      doc.GatewaySessionID,
		GatewaySubscriptionID: doc.GatewaySubscriptionID,
		Amount:                doc.Amount,
		Currency:              doc.Currency,
		Status:                gobilling.TransactionStatus(doc.Status),
		CreatedAt:             doc.CreatedAt,
	}
}

func toSubscriptionDoc(sub *gobilling.Subscription) subscriptionDoc {
	return subscriptionDoc{
		UserID:                sub.UserID,
		PackageID:             sub.PackageID,
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		Status:                string(sub.Status),
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		UpdatedAt:             sub.UpdatedAt.UTC(),
	}
}

func fromSubscriptionDoc(doc *subscriptionDoc) *gobilling.Subscription {
	return &gobilling.Subscription{
		UserID:                doc.UserID,
		PackageID:             doc.PackageID,
		GatewaySubscriptionID: doc.GatewaySubscriptionID,
		Status:                gobilling.SubscriptionStatus(doc.Status),
		CurrentPeriodEnd:      doc.CurrentPeriodEnd,
		UpdatedAt:             doc.UpdatedAt,
	}
}

func toPackageDoc(pkg *gobilling.Package) packageDoc {
	return packageDoc{
		PackageID:       pkg.PackageID,
		Name:            pkg.Name,
		Price:           pkg.Price,
		Currency:        pkg.Currency,
		BillingPeriod:   string(pkg.BillingPeriod),
		GatewayPriceRef: pkg.GatewayPriceRef,
	}
}

func fromPackageDoc(doc *packageDoc) *gobilling.Package {
	return &gobilling.Package{
		PackageID:       doc.PackageID,
		Name:            doc.Name,
		Price:           doc.Price,
		Currency:        doc.Currency,
		BillingPeriod:   gobilling.BillingPeriod(doc.BillingPeriod),
		GatewayPriceRef: doc.GatewayPriceRef,
	}
}

// Package memory provides an in-memory implementation of the gobilling
// storage and catalog interfaces. This implementation is primarily intended
// for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// Storage implements gobilling.Storage and gobilling.CatalogStore using
// in-memory maps guarded by a single mutex, which is what makes
// CreateTransaction and UpsertSubscription atomic here.
type Storage struct {
	mu            sync.RWMutex
	transactions  map[string]*gobilling.Transaction  // by gateway session id
	subscriptions map[string]*gobilling.Subscription // by user id
	packages      map[string]*gobilling.Package      // by package id
	txOrder       []string                           // session ids in insertion order
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		transactions:  make(map[string]*gobilling.Transaction),
		subscriptions: make(map[string]*gobilling.Subscription),
		packages:      make(map[string]*gobilling.Package),
	}
}

// CreateTransaction implements gobilling.Storage.
func (s *Storage) CreateTransaction(ctx context.Context, tx *gobilling.Transaction) (*gobilling.Transaction, bool, error) {
	if tx == nil || tx.GatewaySessionID == "" {
		return nil, false, fmt.Errorf("invalid transaction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactions[tx.GatewaySessionID]; ok {
		existingCopy := *existing
		return &existingCopy, false, nil
	}

	txCopy := *tx
	s.transactions[tx.GatewaySessionID] = &txCopy
	s.txOrder = append(s.txOrder, tx.GatewaySessionID)

	result := txCopy
	return &result, true, nil
}

// TransactionBySessionID implements gobilling.Storage.
func (s *Storage) TransactionBySessionID(ctx context.Context, sessionID string) (*gobilling.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[sessionID]
	if !ok {
		return nil, gobilling.ErrTransactionNotFound
	}

	txCopy := *tx
	return &txCopy, nil
}

// LatestTransactionByUser implements gobilling.Storage.
func (s *Storage) LatestTransactionByUser(ctx context.Context, userID string) (*gobilling.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Scan newest-first through insertion order.
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		tx := s.transactions[s.txOrder[i]]
		if tx.UserID == userID {
			txCopy := *tx
			return &txCopy, nil
		}
	}
	return nil, gobilling.ErrTransactionNotFound
}

// UpsertSubscription implements gobilling.Storage.
func (s *Storage) UpsertSubscription(ctx context.Context, userID string, mutate func(existing *gobilling.Subscription) (*gobilling.Subscription, error)) (*gobilling.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *gobilling.Subscription
	if stored, ok := s.subscriptions[userID]; ok {
		existingCopy := *stored
		existing = &existingCopy
	}

	next, err := mutate(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		// Mutator declined the write.
		return existing, nil
	}

	nextCopy := *next
	nextCopy.UserID = userID
	s.subscriptions[userID] = &nextCopy

	result := nextCopy
	return &result, nil
}

// SubscriptionByUserID implements gobilling.Storage.
func (s *Storage) SubscriptionByUserID(ctx context.Context, userID string) (*gobilling.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, gobilling.ErrSubscriptionNotFound
	}

	subCopy := *sub
	return &subCopy, nil
}

// SubscriptionByGatewayID implements gobilling.Storage.
func (s *Storage) SubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*gobilling.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.GatewaySubscriptionID == gatewaySubscriptionID {
			subCopy := *sub
			return &subCopy, nil
		}
	}
	return nil, gobilling.ErrSubscriptionNotFound
}

// FindPackage implements gobilling.Catalog.
func (s *Storage) FindPackage(ctx context.Context, packageID string) (*gobilling.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packages[packageID]
	if !ok {
		return nil, gobilling.ErrPackageNotFound
	}

	pkgCopy := *pkg
	return &pkgCopy, nil
}

// ListPackages implements gobilling.Catalog.
func (s *Storage) ListPackages(ctx context.Context) ([]*gobilling.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	packages := make([]*gobilling.Package, 0, len(s.packages))
	for _, pkg := range s.packages {
		pkgCopy := *pkg
		packages = append(packages, &pkgCopy)
	}
	return packages, nil
}

// PutPackage implements gobilling.CatalogStore.
func (s *Storage) PutPackage(ctx context.Context, pkg *gobilling.Package) error {
	if pkg == nil || pkg.PackageID == "" {
		return fmt.Errorf("invalid package")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pkgCopy := *pkg
	s.packages[pkg.PackageID] = &pkgCopy
	return nil
}

// Clear removes all data (useful for testing).
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = make(map[string]*gobilling.Transaction)
	s.subscriptions = make(map[string]*gobilling.Subscription)
	s.packages = make(map[string]*gobilling.Package)
	s.txOrder = nil
}

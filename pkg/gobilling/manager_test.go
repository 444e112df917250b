package gobilling_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/flowkit/gobilling/pkg/gobilling"
	"github.com/flowkit/gobilling/storage/memory"
)

// Helper function to create a test manager with in-memory storage and a
// seeded catalog
func newTestManager(t *testing.T) (*gobilling.Manager, *memory.Storage) {
	t.Helper()
	store := memory.New()

	packages := []*gobilling.Package{
		{
			PackageID:       "starter-monthly",
			Name:            "Starter",
			Price:           999,
			Currency:        "usd",
			BillingPeriod:   gobilling.BillingPeriodMonth,
			GatewayPriceRef: "price_starter_m",
		},
		{
			PackageID:       "pro-yearly",
			Name:            "Pro",
			Price:           9900,
			Currency:        "usd",
			BillingPeriod:   gobilling.BillingPeriodYear,
			GatewayPriceRef: "price_pro_y",
		},
		{
			PackageID:       "credits-pack",
			Name:            "Credit Pack",
			Price:           1500,
			Currency:        "usd",
			BillingPeriod:   gobilling.BillingPeriodOneTime,
			GatewayPriceRef: "price_credits",
		},
	}
	for _, pkg := range packages {
		if err := store.PutPackage(context.Background(), pkg); err != nil {
			t.Fatalf("PutPackage failed: %v", err)
		}
	}

	manager, err := gobilling.NewManager(store, store, gobilling.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager, store
}

func TestNewManager(t *testing.T) {
	store := memory.New()
	manager, err := gobilling.NewManager(store, store, gobilling.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if manager == nil {
		t.Fatal("Expected non-nil manager")
	}

	// Test with nil storage
	_, err = gobilling.NewManager(nil, store, gobilling.Config{})
	if !errors.Is(err, gobilling.ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}

	// Test with nil catalog
	_, err = gobilling.NewManager(store, nil, gobilling.Config{})
	if err == nil {
		t.Error("Expected error for nil catalog")
	}
}

func TestManager_RecordTransaction(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	txn, created, err := manager.RecordTransaction(ctx, &gobilling.TransactionRecord{
		UserID:           "user1",
		PackageID:        "starter-monthly",
		GatewaySessionID: "cs_test_001",
	})
	if err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}
	if !created {
		t.Error("Expected first recording to create the transaction")
	}
	if txn.Amount != 999 {
		t.Errorf("Expected amount 999 copied from catalog, got %d", txn.Amount)
	}
	if txn.Currency != "usd" {
		t.Errorf("Expected currency usd, got %s", txn.Currency)
	}
	if txn.Status != gobilling.TransactionCompleted {
		t.Errorf("Expected completed status, got %s", txn.Status)
	}
}

func TestManager_RecordTransaction_Idempotent(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	rec := &gobilling.TransactionRecord{
		UserID:           "user1",
		PackageID:        "starter-monthly",
		GatewaySessionID: "cs_test_dup",
	}

	first, created, err := manager.RecordTransaction(ctx, rec)
	if err != nil {
		t.Fatalf("first RecordTransaction failed: %v", err)
	}
	if !created {
		t.Fatal("Expected first recording to create")
	}

	// Deliver the same session several more times
	for i := 0; i < 3; i++ {
		again, created, err := manager.RecordTransaction(ctx, rec)
		if err != nil {
			t.Fatalf("repeat RecordTransaction failed: %v", err)
		}
		if created {
			t.Error("Expected repeat recording to be a no-op")
		}
		if again.GatewaySessionID != first.GatewaySessionID {
			t.Errorf("Expected same stored transaction, got session %s", again.GatewaySessionID)
		}
		if !again.CreatedAt.Equal(first.CreatedAt) {
			t.Error("Expected stored CreatedAt to be unchanged by redelivery")
		}
	}

	// Exactly one transaction for the user
	latest, err := manager.LatestTransaction(ctx, "user1")
	if err != nil {
		t.Fatalf("LatestTransaction failed: %v", err)
	}
	if latest.GatewaySessionID != "cs_test_dup" {
		t.Errorf("Unexpected latest transaction: %s", latest.GatewaySessionID)
	}
}

func TestManager_RecordTransaction_PriceImmutability(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	_, _, err := manager.RecordTransaction(ctx, &gobilling.TransactionRecord{
		UserID:           "user1",
		PackageID:        "starter-monthly",
		GatewaySessionID: "cs_before_reprice",
	})
	if err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}

	// Reprice the package after the fact
	err = store.PutPackage(ctx, &gobilling.Package{
		PackageID:       "starter-monthly",
		Name:            "Starter",
		Price:           1999,
		Currency:        "usd",
		BillingPeriod:   gobilling.BillingPeriodMonth,
		GatewayPriceRef: "price_starter_m2",
	})
	if err != nil {
		t.Fatalf("PutPackage failed: %v", err)
	}

	stored, err := manager.TransactionBySession(ctx, "cs_before_reprice")
	if err != nil {
		t.Fatalf("TransactionBySession failed: %v", err)
	}
	if stored.Amount != 999 {
		t.Errorf("Expected historical amount 999 to survive repricing, got %d", stored.Amount)
	}

	// New transactions pick up the new price
	txn, _, err := manager.RecordTransaction(ctx, &gobilling.TransactionRecord{
		UserID:           "user2",
		PackageID:        "starter-monthly",
		GatewaySessionID: "cs_after_reprice",
	})
	if err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}
	if txn.Amount != 1999 {
		t.Errorf("Expected new amount 1999, got %d", txn.Amount)
	}
}

func TestManager_RecordTransaction_UnknownPackage(t *testing.T) {
	manager, _ := newTestManager(t)

	_, _, err := manager.RecordTransaction(context.Background(), &gobilling.TransactionRecord{
		UserID:           "user1",
		PackageID:        "no-such-package",
		GatewaySessionID: "cs_test_404",
	})
	if !errors.Is(err, gobilling.ErrPackageNotFound) {
		t.Errorf("Expected ErrPackageNotFound, got %v", err)
	}
}

func TestManager_ReconcileSubscription_CreatesAndUpdates(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	t0 := time.Now().UTC().Add(-time.Hour)
	periodEnd := t0.AddDate(0, 1, 0)

	sub, err := manager.ReconcileSubscription(ctx, gobilling.ReconcileRequest{
		UserID:                "user1",
		PackageID:             "starter-monthly",
		GatewaySubscriptionID: "sub_abc",
		Status:                gobilling.SubscriptionActive,
		CurrentPeriodEnd:      periodEnd,
		EventTime:             t0,
	})
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}
	if sub.Status != gobilling.SubscriptionActive {
		t.Errorf("Expected active status, got %s", sub.Status)
	}
	if !sub.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("Unexpected period end: %v", sub.CurrentPeriodEnd)
	}

	// A later event moves the subscription forward
	t1 := t0.Add(30 * time.Minute)
	sub, err = manager.ReconcileSubscription(ctx, gobilling.ReconcileRequest{
		GatewaySubscriptionID: "sub_abc",
		Status:                gobilling.SubscriptionExpired,
		EventTime:             t1,
	})
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}
	if sub.Status != gobilling.SubscriptionExpired {
		t.Errorf("Expected expired status, got %s", sub.Status)
	}
	if sub.PackageID != "starter-monthly" {
		t.Errorf("Expected package id preserved, got %q", sub.PackageID)
	}
	if !sub.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("Expected period end preserved, got %v", sub.CurrentPeriodEnd)
	}
}

func TestManager_ReconcileSubscription_Idempotent(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	eventTime := time.Now().UTC().Add(-time.Hour)
	req := gobilling.ReconcileRequest{
		UserID:                "user1",
		PackageID:             "starter-monthly",
		GatewaySubscriptionID: "sub_dup",
		Status:                gobilling.SubscriptionActive,
		EventTime:             eventTime,
	}

	first, err := manager.ReconcileSubscription(ctx, req)
	if err != nil {
		t.Fatalf("first ReconcileSubscription failed: %v", err)
	}

	// Redeliver the exact same event
	second, err := manager.ReconcileSubscription(ctx, req)
	if err != nil {
		t.Fatalf("second ReconcileSubscription failed: %v", err)
	}
	if second.Status != first.Status || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("Expected redelivered event to leave the subscription unchanged")
	}
}

func TestManager_ReconcileSubscription_StaleEventDropped(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	tDeleted := time.Now().UTC().Add(-time.Minute)
	tInvoice := tDeleted.Add(-time.Hour) // older than the deletion

	_, err := manager.ReconcileSubscription(ctx, gobilling.ReconcileRequest{
		UserID:                "user1",
		PackageID:             "starter-monthly",
		GatewaySubscriptionID: "sub_ordering",
		Status:                gobilling.SubscriptionCanceled,
		EventTime:             tDeleted,
	})
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}

	// A stale invoice-paid event from before the deletion arrives late
	sub, err := manager.ReconcileSubscription(ctx, gobilling.ReconcileRequest{
		GatewaySubscriptionID: "sub_ordering",
		Status:                gobilling.SubscriptionActive,
		EventTime:             tInvoice,
	})
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}
	if sub.Status != gobilling.SubscriptionCanceled {
		t.Errorf("Expected stale event to be dropped, got status %s", sub.Status)
	}
}

func TestManager_ReconcileSubscription_UnknownSubscriptionAcked(t *testing.T) {
	manager, _ := newTestManager(t)

	// Invoice event for a subscription we have never seen, with no user
	// context. There is nothing correct to write.
	sub, err := manager.ReconcileSubscription(context.Background(), gobilling.ReconcileRequest{
		GatewaySubscriptionID: "sub_stranger",
		Status:                gobilling.SubscriptionActive,
		EventTime:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Expected unknown subscription to be acknowledged, got %v", err)
	}
	if sub != nil {
		t.Errorf("Expected no subscription record, got %+v", sub)
	}
}

// wrappingStorage wraps lookup errors so not-found sentinels arrive wrapped,
// the way a backend adding call context would return them.
type wrappingStorage struct {
	gobilling.Storage
}

func (s wrappingStorage) SubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*gobilling.Subscription, error) {
	sub, err := s.Storage.SubscriptionByGatewayID(ctx, gatewaySubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("gateway id lookup: %w", err)
	}
	return sub, nil
}

func TestManager_ReconcileSubscription_UnknownSubscriptionAcked_WrappedError(t *testing.T) {
	_, store := newTestManager(t)

	manager, err := gobilling.NewManager(wrappingStorage{Storage: store}, store, gobilling.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	sub, err := manager.ReconcileSubscription(context.Background(), gobilling.ReconcileRequest{
		GatewaySubscriptionID: "sub_stranger",
		Status:                gobilling.SubscriptionActive,
		EventTime:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Expected wrapped not-found to be acknowledged, got %v", err)
	}
	if sub != nil {
		t.Errorf("Expected no subscription record, got %+v", sub)
	}
}

func TestManager_SubscriptionForUser_NotFound(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.SubscriptionForUser(context.Background(), "nobody")
	if !errors.Is(err, gobilling.ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}

package gobilling

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Manager holds the two billing invariants: at most one Transaction per
// gateway session id, and at most one Subscription per user. Gateway adapters
// and the REST layer call into it; it never talks to the gateway itself.
type Manager struct {
	storage Storage
	catalog Catalog
	logger  Logger
	metrics Metrics
}

// Config holds optional Manager collaborators.
type Config struct {
	// Logger receives structured logs. Defaults to NoopLogger.
	Logger Logger

	// Metrics receives domain metrics. Defaults to NoopMetrics.
	Metrics Metrics
}

// NewManager creates a new billing manager over the given storage and catalog.
func NewManager(storage Storage, catalog Catalog, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	return &Manager{
		storage: storage,
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// TransactionRecord is the input to RecordTransaction. Amount and currency are
// deliberately absent: they are copied from the catalog package at recording
// time so historical transactions are immune to later price changes.
type TransactionRecord struct {
	UserID                string
	PackageID             string
	GatewaySessionID      string
	GatewaySubscriptionID string
}

// RecordTransaction idempotently persists a completed checkout. Delivering the
// same session any number of times, over any mix of the webhook and verify
// paths, yields exactly one stored Transaction. Returns the stored record and
// whether this call created it.
func (m *Manager) RecordTransaction(ctx context.Context, rec *TransactionRecord) (*Transaction, bool, error) {
	if rec == nil || rec.UserID == "" || rec.PackageID == "" || rec.GatewaySessionID == "" {
		return nil, false, fmt.Errorf("invalid transaction record")
	}

	pkg, err := m.catalog.FindPackage(ctx, rec.PackageID)
	if err != nil {
		return nil, false, fmt.Errorf("package lookup for %s: %w", rec.PackageID, err)
	}

	tx := &Transaction{
		UserID:                rec.UserID,
		PackageID:             rec.PackageID,
		GatewaySessionID:      rec.GatewaySessionID,
		GatewaySubscriptionID: rec.GatewaySubscriptionID,
		Amount:                pkg.Price,
		Currency:              pkg.Currency,
		Status:                TransactionCompleted,
		CreatedAt:             time.Now().UTC(),
	}

	stored, created, err := m.storage.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create transaction: %w", err)
	}

	if created {
		m.metrics.RecordTransactionCreated("created")
		m.logger.Info("transaction recorded",
			Field{Key: "user_id", Value: rec.UserID},
			Field{Key: "package_id", Value: rec.PackageID},
			Field{Key: "session_id", Value: rec.GatewaySessionID},
			Field{Key: "amount", Value: pkg.Price},
		)
	} else {
		m.metrics.RecordTransactionCreated("duplicate")
		m.logger.Debug("transaction already recorded",
			Field{Key: "session_id", Value: rec.GatewaySessionID},
		)
	}

	return stored, created, nil
}

// ReconcileRequest describes one subscription state change reported by the
// gateway. UserID may be empty for invoice and lifecycle events; it is then
// resolved through the gateway subscription id.
type ReconcileRequest struct {
	UserID                string
	PackageID             string
	GatewaySubscriptionID string
	Status                SubscriptionStatus
	// CurrentPeriodEnd refreshes the advisory period end; the zero value
	// preserves whatever is stored.
	CurrentPeriodEnd time.Time
	// EventTime is the gateway's emission timestamp. Writes are skipped when
	// it is not after the stored UpdatedAt, which makes redelivery and
	// reordering converge. The zero value means "now" (sync-style callers).
	EventTime time.Time
}

// ReconcileSubscription upserts the user's subscription to the gateway's
// last-known state. Events for a gateway subscription id with no local record
// and no user context are logged and dropped: there is no key to upsert under,
// which matches the update-only semantics of invoice events arriving before
// any checkout was processed.
func (m *Manager) ReconcileSubscription(ctx context.Context, req ReconcileRequest) (*Subscription, error) {
	if req.GatewaySubscriptionID == "" {
		return nil, fmt.Errorf("gateway subscription id is required")
	}

	userID := req.UserID
	if userID == "" {
		existing, err := m.storage.SubscriptionByGatewayID(ctx, req.GatewaySubscriptionID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			m.logger.Warn("subscription event for unknown subscription",
				Field{Key: "gateway_subscription_id", Value: req.GatewaySubscriptionID},
				Field{Key: "status", Value: string(req.Status)},
			)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("subscription lookup for %s: %w", req.GatewaySubscriptionID, err)
		}
		userID = existing.UserID
	}

	eventTime := req.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	var fromStatus SubscriptionStatus
	sub, err := m.storage.UpsertSubscription(ctx, userID, func(existing *Subscription) (*Subscription, error) {
		if existing != nil && !eventTime.After(existing.UpdatedAt) {
			// Older or duplicate event - keep the stored state
			return nil, nil
		}

		next := &Subscription{
			UserID:                userID,
			PackageID:             req.PackageID,
			GatewaySubscriptionID: req.GatewaySubscriptionID,
			Status:                req.Status,
			CurrentPeriodEnd:      req.CurrentPeriodEnd,
			UpdatedAt:             eventTime,
		}
		if existing != nil {
			fromStatus = existing.Status
			if next.PackageID == "" {
				next.PackageID = existing.PackageID
			}
			if next.CurrentPeriodEnd.IsZero() {
				next.CurrentPeriodEnd = existing.CurrentPeriodEnd
			}
		}
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	if sub != nil && sub.UpdatedAt.Equal(eventTime) && fromStatus != sub.Status {
		m.metrics.RecordSubscriptionTransition(string(fromStatus), string(sub.Status))
		m.logger.Info("subscription reconciled",
			Field{Key: "user_id", Value: userID},
			Field{Key: "gateway_subscription_id", Value: req.GatewaySubscriptionID},
			Field{Key: "status", Value: string(sub.Status)},
		)
	}

	return sub, nil
}

// Package returns a catalog package by id.
func (m *Manager) Package(ctx context.Context, packageID string) (*Package, error) {
	return m.catalog.FindPackage(ctx, packageID)
}

// Packages returns all catalog packages.
func (m *Manager) Packages(ctx context.Context) ([]*Package, error) {
	return m.catalog.ListPackages(ctx)
}

// TransactionBySession returns the transaction recorded for a gateway session.
func (m *Manager) TransactionBySession(ctx context.Context, sessionID string) (*Transaction, error) {
	return m.storage.TransactionBySessionID(ctx, sessionID)
}

// LatestTransaction returns the user's most recent transaction.
func (m *Manager) LatestTransaction(ctx context.Context, userID string) (*Transaction, error) {
	return m.storage.LatestTransactionByUser(ctx, userID)
}

// SubscriptionForUser returns the user's subscription record.
func (m *Manager) SubscriptionForUser(ctx context.Context, userID string) (*Subscription, error) {
	return m.storage.SubscriptionByUserID(ctx, userID)
}

// Package postgres provides a PostgreSQL implementation of the gobilling
// storage and catalog interfaces. Transaction creation relies on a unique
// constraint over the gateway session id, and subscription upserts run inside
// SQL transactions with SELECT FOR UPDATE so concurrent webhook deliveries
// serialize per user.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// Storage implements gobilling.Storage and gobilling.CatalogStore using PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the connection pool
func (s *Storage) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema creates the billing tables if they do not already exist.
// Intended for development and tests; production deployments should manage
// the schema with their own migration tooling.
func (s *Storage) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS billing_transactions (
			gateway_session_id      TEXT PRIMARY KEY,
			user_id                 TEXT NOT NULL,
			package_id              TEXT NOT NULL,
			gateway_subscription_id TEXT NOT NULL DEFAULT '',
			amount                  BIGINT NOT NULL,
			currency                TEXT NOT NULL,
			status                  TEXT NOT NULL,
			created_at              TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS billing_transactions_user_idx
			ON billing_transactions (user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS billing_subscriptions (
			user_id                 TEXT PRIMARY KEY,
			package_id              TEXT NOT NULL,
			gateway_subscription_id TEXT NOT NULL DEFAULT '',
			status                  TEXT NOT NULL,
			current_period_end      TIMESTAMPTZ,
			updated_at              TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS billing_subscriptions_gateway_idx
			ON billing_subscriptions (gateway_subscription_id);

		CREATE TABLE IF NOT EXISTS billing_packages (
			package_id        TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			price             BIGINT NOT NULL,
			currency          TEXT NOT NULL,
			billing_period    TEXT NOT NULL,
			gateway_price_ref TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// CreateTransaction implements gobilling.Storage
func (s *Storage) CreateTransaction(ctx context.Context, txn *gobilling.Transaction) (*gobilling.Transaction, bool, error) {
	if txn == nil || txn.GatewaySessionID == "" {
		return nil, false, fmt.Errorf("invalid transaction")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO billing_transactions
			(gateway_session_id, user_id, package_id, gateway_subscription_id,
			amount, currency, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (gateway_session_id) DO NOTHING`,
		txn.GatewaySessionID, txn.UserID, txn.PackageID, txn.GatewaySubscriptionID,
		txn.Amount, txn.Currency, string(txn.Status), txn.CreatedAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if tag.RowsAffected() == 1 {
		result := *txn
		return &result, true, nil
	}

	// Conflict: another delivery of the same session already won. Return the
	// stored record so the caller sees identical state either way.
	existing, err := s.TransactionBySessionID(ctx, txn.GatewaySessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing transaction: %w", err)
	}
	return existing, false, nil
}

// TransactionBySessionID implements gobilling.Storage
func (s *Storage) TransactionBySessionID(ctx context.Context, sessionID string) (*gobilling.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT gateway_session_id, user_id, package_id, gateway_subscription_id,
			amount, currency, status, created_at
			FROM billing_transactions WHERE gateway_session_id = $1`,
		sessionID)
	return scanTransaction(row)
}

// LatestTransactionByUser implements gobilling.Storage
func (s *Storage) LatestTransactionByUser(ctx context.Context, userID string) (*gobilling.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT gateway_session_id, user_id, package_id, gateway_subscription_id,
			amount, currency, status, created_at
			FROM billing_transactions WHERE user_id = $1
			ORDER BY created_at DESC LIMIT 1`,
		userID)
	return scanTransaction(row)
}

func scanTransaction(row pgx.Row) (*gobilling.Transaction, error) {
	var txn gobilling.Transaction
	var status string
	err := row.Scan(&txn.GatewaySessionID, &txn.UserID, &txn.PackageID,
		&txn.GatewaySubscriptionID, &txn.Amount, &txn.Currency, &status, &txn.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gobilling.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	txn.Status = gobilling.TransactionStatus(status)
	return &txn, nil
}

// UpsertSubscription implements gobilling.Storage
func (s *Storage) UpsertSubscription(ctx context.Context, userID string, mutate func(existing *gobilling.Subscription) (*gobilling.Subscription, error)) (*gobilling.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	// Lock the row (if present) so concurrent deliveries for the same user
	// serialize through the mutator.
	existing, err := scanSubscription(tx.QueryRow(ctx,
		`SELECT user_id, package_id, gateway_subscription_id, status,
			current_period_end, updated_at
			FROM billing_subscriptions WHERE user_id = $1 FOR UPDATE`,
		userID))
	if err != nil && !errors.Is(err, gobilling.ErrSubscriptionNotFound) {
		return nil, err
	}

	next, err := mutate(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		// Mutator declined the write
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, fmt.Errorf("failed to commit: %w", commitErr)
		}
		return existing, nil
	}

	result := *next
	result.UserID = userID

	var periodEnd *time.Time
	if !result.CurrentPeriodEnd.IsZero() {
		t := result.CurrentPeriodEnd.UTC()
		periodEnd = &t
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO billing_subscriptions
			(user_id, package_id, gateway_subscription_id, status, current_period_end, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id) DO UPDATE SET
				package_id = EXCLUDED.package_id,
				gateway_subscription_id = EXCLUDED.gateway_subscription_id,
				status = EXCLUDED.status,
				current_period_end = EXCLUDED.current_period_end,
				updated_at = EXCLUDED.updated_at`,
		result.UserID, result.PackageID, result.GatewaySubscriptionID,
		string(result.Status), periodEnd, result.UpdatedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &result, nil
}

// SubscriptionByUserID implements gobilling.Storage
func (s *Storage) SubscriptionByUserID(ctx context.Context, userID string) (*gobilling.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT user_id, package_id, gateway_subscription_id, status,
			current_period_end, updated_at
			FROM billing_subscriptions WHERE user_id = $1`,
		userID))
}

// SubscriptionByGatewayID implements gobilling.Storage
func (s *Storage) SubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*gobilling.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT user_id, package_id, gateway_subscription_id, status,
			current_period_end, updated_at
			FROM billing_subscriptions WHERE gateway_subscription_id = $1
			LIMIT 1`,
		gatewaySubscriptionID))
}

func scanSubscription(row pgx.Row) (*gobilling.Subscription, error) {
	var sub gobilling.Subscription
	var status string
	var periodEnd *time.Time
	err := row.Scan(&sub.UserID, &sub.PackageID, &sub.GatewaySubscriptionID,
		&status, &periodEnd, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gobilling.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	sub.Status = gobilling.SubscriptionStatus(status)
	if periodEnd != nil {
		sub.CurrentPeriodEnd = *periodEnd
	}
	return &sub, nil
}

// FindPackage implements gobilling.Catalog
func (s *Storage) FindPackage(ctx context.Context, packageID string) (*gobilling.Package, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT package_id, name, price, currency, billing_period, gateway_price_ref
			FROM billing_packages WHERE package_id = $1`,
		packageID)

	pkg, err := scanPackage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gobilling.ErrPackageNotFound
	}
	return pkg, err
}

// ListPackages implements gobilling.Catalog
func (s *Storage) ListPackages(ctx context.Context) ([]*gobilling.Package, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT package_id, name, price, currency, billing_period, gateway_price_ref
			FROM billing_packages ORDER BY package_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var packages []*gobilling.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate packages: %w", err)
	}
	return packages, nil
}

func scanPackage(row pgx.Row) (*gobilling.Package, error) {
	var pkg gobilling.Package
	var period string
	err := row.Scan(&pkg.PackageID, &pkg.Name, &pkg.Price, &pkg.Currency,
		&period, &pkg.GatewayPriceRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan package: %w", err)
	}
	pkg.BillingPeriod = gobilling.BillingPeriod(period)
	return &pkg, nil
}

// PutPackage implements gobilling.CatalogStore
func (s *Storage) PutPackage(ctx context.Context, pkg *gobilling.Package) error {
	if pkg == nil || pkg.PackageID == "" {
		return fmt.Errorf("invalid package")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_packages
			(package_id, name, price, currency, billing_period, gateway_price_ref)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (package_id) DO UPDATE SET
				name = EXCLUDED.name,
				price = EXCLUDED.price,
				currency = EXCLUDED.currency,
				billing_period = EXCLUDED.billing_period,
				gateway_price_ref = EXCLUDED.gateway_price_ref`,
		pkg.PackageID, pkg.Name, pkg.Price, pkg.Currency,
		string(pkg.BillingPeriod), pkg.GatewayPriceRef)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	return nil
}

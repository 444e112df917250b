// Package redis provides a Redis implementation of the gobilling storage and
// catalog interfaces. Transaction creation uses a Lua script so the
// create-if-absent check and write run atomically, and subscription upserts
// run inside WATCH-based optimistic transactions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// Storage implements gobilling.Storage and gobilling.CatalogStore using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gobilling:")
	KeyPrefix string

	// TransactionTTL is the TTL for transaction records (0 = no expiration)
	TransactionTTL time.Duration

	// MaxRetries is the maximum number of optimistic-transaction retries (default: 3)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:      "gobilling:",
		TransactionTTL: 0, // Billing records don't expire
		MaxRetries:     3,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "gobilling:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts compiles the Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Create a transaction only if the session key is absent. Returns the
	// stored payload and a flag telling whether this call created it.
	s.scripts["createTransaction"] = redis.NewScript(`
		local txKey = KEYS[1]
		local userIndexKey = KEYS[2]
		local data = ARGV[1]
		local ttl = tonumber(ARGV[2])
		local createdAt = tonumber(ARGV[3])

		local existing = redis.call('GET', txKey)
		if existing then
			return {existing, 0}
		end

		redis.call('SET', txKey, data)
		if ttl > 0 then
			redis.call('EXPIRE', txKey, ttl)
		end
		redis.call('ZADD', userIndexKey, createdAt, txKey)
		return {data, 1}
	`)
}

// transactionRecord is the JSON shape stored per gateway session
type transactionRecord struct {
	UserID                string    `json:"user_id"`
	PackageID             string    `json:"package_id"`
	GatewaySessionID      string    `json:"gateway_session_id"`
	GatewaySubscriptionID string    `json:"gateway_subscription_id,omitempty"`
	Amount                int64     `json:"amount"`
	Currency              string    `json:"currency"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
}

// subscriptionRecord is the JSON shape stored per user
type subscriptionRecord struct {
	UserID                string    `json:"user_id"`
	PackageID             string    `json:"package_id"`
	GatewaySubscriptionID string    `json:"gateway_subscription_id,omitempty"`
	Status                string    `json:"status"`
	CurrentPeriodEnd      time.Time `json:"current_period_end,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CreateTransaction implements gobilling.Storage
func (s *Storage) CreateTransaction(ctx context.Context, txn *gobilling.Transaction) (*gobilling.Transaction, bool, error) {
	if txn == nil || txn.GatewaySessionID == "" {
		return nil, false, fmt.Errorf("invalid transaction")
	}

	data, err := json.Marshal(toTransactionRecord(txn))
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	keys := []string{
		s.transactionKey(txn.GatewaySessionID),
		s.userTransactionsKey(txn.UserID),
	}
	args := []any{
		string(data),
		int64(s.config.TransactionTTL.Seconds()),
		txn.CreatedAt.UTC().UnixNano(),
	}

	result, err := s.scripts["createTransaction"].Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create transaction: %w", err)
	}

	reply, ok := result.([]any)
	if !ok || len(reply) != 2 {
		return nil, false, fmt.Errorf("unexpected script result: %v", result)
	}

	stored, err := parseTransaction([]byte(reply[0].(string)))
	if err != nil {
		return nil, false, err
	}
	created, _ := reply[1].(int64)
	return stored, created == 1, nil
}

// TransactionBySessionID implements gobilling.Storage
func (s *Storage) TransactionBySessionID(ctx context.Context, sessionID string) (*gobilling.Transaction, error) {
	data, err := s.client.Get(ctx, s.transactionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gobilling.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return parseTransaction(data)
}

// LatestTransactionByUser implements gobilling.Storage
func (s *Storage) LatestTransactionByUser(ctx context.Context, userID string) (*gobilling.Transaction, error) {
	keys, err := s.client.ZRevRange(ctx, s.userTransactionsKey(userID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query user transactions: %w", err)
	}
	if len(keys) == 0 {
		return nil, gobilling.ErrTransactionNotFound
	}

	data, err := s.client.Get(ctx, keys[0]).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gobilling.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return parseTransaction(data)
}

// UpsertSubscription implements gobilling.Storage
func (s *Storage) UpsertSubscription(ctx context.Context, userID string, mutate func(existing *gobilling.Subscription) (*gobilling.Subscription, error)) (*gobilling.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	key := s.subscriptionKey(userID)
	var result *gobilling.Subscription

	txFn := func(tx *redis.Tx) error {
		var existing *gobilling.Subscription
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to get subscription: %w", err)
		}
		if err == nil {
			existing, err = parseSubscription(data)
			if err != nil {
				return err
			}
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

		payload, err := json.Marshal(toSubscriptionRecord(&updated))
		if err != nil {
			return fmt.Errorf("failed to marshal subscription: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if existing != nil && existing.GatewaySubscriptionID != "" &&
				existing.GatewaySubscriptionID != updated.GatewaySubscriptionID {
				pipe.Del(ctx, s.gatewaySubscriptionKey(existing.GatewaySubscriptionID))
			}
			if updated.GatewaySubscriptionID != "" {
				pipe.Set(ctx, s.gatewaySubscriptionKey(updated.GatewaySubscriptionID), userID, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = &updated
		return nil
	}

	var err error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		err = s.client.Watch(ctx, txFn, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		// Key changed under us, retry the optimistic transaction
	}
	return nil, fmt.Errorf("failed to upsert subscription after %d retries: %w", s.config.MaxRetries, err)
}

// SubscriptionByUserID implements gobilling.Storage
func (s *Storage) SubscriptionByUserID(ctx context.Context, userID string) (*gobilling.Subscription, error) {
	data, err := s.client.Get(ctx, s.subscriptionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gobilling.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return parseSubscription(data)
}

// SubscriptionByGatewayID implements gobilling.Storage
func (s *Storage) SubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*gobilling.Subscription, error) {
	userID, err := s.client.Get(ctx, s.gatewaySubscriptionKey(gatewaySubscriptionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, gobilling.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve gateway subscription: %w", err)
	}
	return s.SubscriptionByUserID(ctx, userID)
}

// FindPackage implements gobilling.Catalog
func (s *Storage) FindPackage(ctx context.Context, packageID string) (*gobilling.Package, error) {
	data, err := s.client.HGet(ctx, s.packagesKey(), packageID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gobilling.ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	var pkg gobilling.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal package: %w", err)
	}
	return &pkg, nil
}

// ListPackages implements gobilling.Catalog
func (s *Storage) ListPackages(ctx context.Context) ([]*gobilling.Package, error) {
	entries, err := s.client.HGetAll(ctx, s.packagesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}

	packages := make([]*gobilling.Package, 0, len(entries))
	for _, data := range entries {
		var pkg gobilling.Package
		if err := json.Unmarshal([]byte(data), &pkg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal package: %w", err)
		}
		packages = append(packages, &pkg)
	}
	return packages, nil
}

// PutPackage implements gobilling.CatalogStore
func (s *Storage) PutPackage(ctx context.Context, pkg *gobilling.Package) error {
	if pkg == nil || pkg.PackageID == "" {
		return fmt.Errorf("invalid package")
	}

	data, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("failed to marshal package: %w", err)
	}
	if err := s.client.HSet(ctx, s.packagesKey(), pkg.PackageID, data).Err(); err != nil {
		return fmt.Errorf("failed to store package: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is alive
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Key builders

func (s *Storage) transactionKey(sessionID string) string {
	return fmt.Sprintf("%stx:%s", s.config.KeyPrefix, sessionID)
}

func (s *Storage) userTransactionsKey(userID string) string {
	return fmt.Sprintf("%susertx:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) subscriptionKey(userID string) string {
	return fmt.Sprintf("%ssub:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) gatewaySubscriptionKey(gatewaySubscriptionID string) string {
	return fmt.Sprintf("%sgwsub:%s", s.config.KeyPrefix, gatewaySubscriptionID)
}

func (s *Storage) packagesKey() string {
	return s.config.KeyPrefix + "packages"
}

// Record conversions

func toTransactionRecord(txn *gobilling.Transaction) transactionRecord {
	return transactionRecord{
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

func parseTransaction(data []byte) (*gobilling.Transaction, error) {
	var rec transactionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &gobilling.Transaction{
		UserID:                rec.UserID,
		PackageID:             rec.PackageID,
		GatewaySessionID:      rec.GatewaySessionID,
		GatewaySubscriptionID: rec.GatewaySubscriptionID,
		Amount:                rec.Amount,
		Currency:              rec.Currency,
		Status:                gobilling.TransactionStatus(rec.Status),
		CreatedAt:             rec.CreatedAt,
	}, nil
}

func toSubscriptionRecord(sub *gobilling.Subscription) subscriptionRecord {
	return subscriptionRecord{
		UserID:                sub.UserID,
		PackageID:             sub.PackageID,
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		Status:                string(sub.Status),
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		UpdatedAt:             sub.UpdatedAt.UTC(),
	}
}

func parseSubscription(data []byte) (*gobilling.Subscription, error) {
	var rec subscriptionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &gobilling.Subscription{
		UserID:                rec.UserID,
		PackageID:             rec.PackageID,
		GatewaySubscriptionID: rec.GatewaySubscriptionID,
		Status:                gobilling.SubscriptionStatus(rec.Status),
		CurrentPeriodEnd:      rec.CurrentPeriodEnd,
		UpdatedAt:             rec.UpdatedAt,
	}, nil
}

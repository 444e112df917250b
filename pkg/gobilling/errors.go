package gobilling

import "errors"

var (
	// ErrPackageNotFound is returned when a catalog package does not exist
	ErrPackageNotFound = errors.New("package not found")

	// ErrTransactionNotFound is returned when no transaction exists for a key
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSubscriptionNotFound is returned when no subscription exists for a key
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSessionIncomplete is returned when a checkout session is not yet
	// both paid and complete
	ErrSessionIncomplete = errors.New("checkout session not paid and complete")

	// ErrUserMismatch is returned when the caller's user id does not match
	// the user id recorded in the gateway session metadata
	ErrUserMismatch = errors.New("user id does not match session metadata")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrGatewayUnavailable is returned when the payment gateway cannot be reached
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayNotConfigured is returned when a gateway is not properly configured
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")
)

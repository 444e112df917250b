// Package echo provides Echo middleware that gates routes on an active
// subscription
package echo

import (
	"errors"
	"net/http"
	"time"

	labecho "github.com/labstack/echo/v4"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c labecho.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager is the billing manager instance
	Manager *gobilling.Manager

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// AllowExpiredGrace admits subscriptions whose status is no longer active
	// but whose paid period has not yet ended. Default: false.
	AllowExpiredGrace bool

	// OnDenied is called when the user has no active subscription
	// If nil, returns 402 Payment Required
	OnDenied func(c labecho.Context, sub *gobilling.Subscription) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c labecho.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c labecho.Context, err error) error
}

// Middleware creates an Echo middleware that admits only users with an
// active subscription
func Middleware(config Config) labecho.MiddlewareFunc {
	return func(next labecho.HandlerFunc) labecho.HandlerFunc {
		return func(c labecho.Context) error {
			userID := config.GetUserID(c)
			if userID == "" {
				if config.OnUnauthorized != nil {
					return config.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			sub, err := config.Manager.SubscriptionForUser(c.Request().Context(), userID)
			if err != nil && !errors.Is(err, gobilling.ErrSubscriptionNotFound) {
				if config.OnError != nil {
					return config.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}

			if !admitted(sub, config.AllowExpiredGrace) {
				if config.OnDenied != nil {
					return config.OnDenied(c, sub)
				}
				return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "subscription required"})
			}

			return next(c)
		}
	}
}

// FromHeader returns a UserIDExtractor that reads the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c labecho.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromContextKey returns a UserIDExtractor that reads the user ID previously
// stored on the Echo context (for example by an auth middleware)
func FromContextKey(key string) UserIDExtractor {
	return func(c labecho.Context) string {
		if userID, ok := c.Get(key).(string); ok {
			return userID
		}
		return ""
	}
}

func admitted(sub *gobilling.Subscription, allowGrace bool) bool {
	if sub == nil {
		return false
	}
	if sub.Status == gobilling.SubscriptionActive {
		return true
	}
	if allowGrace && !sub.CurrentPeriodEnd.IsZero() && sub.CurrentPeriodEnd.After(time.Now().UTC()) {
		return true
	}
	return false
}

// Package gin provides Gin middleware that gates routes on an active
// subscription
package gin

import (
	"errors"
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

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
	// If nil, aborts with 402 Payment Required
	OnDenied func(c *gongin.Context, sub *gobilling.Subscription)

	// OnUnauthorized is called when user is not authenticated
	// If nil, aborts with 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, aborts with 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits only users with an active
// subscription
func Middleware(config Config) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		userID := config.GetUserID(c)
		if userID == "" {
			if config.OnUnauthorized != nil {
				config.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			return
		}

		sub, err := config.Manager.SubscriptionForUser(c.Request.Context(), userID)
		if err != nil && !errors.Is(err, gobilling.ErrSubscriptionNotFound) {
			if config.OnError != nil {
				config.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal error"})
			}
			return
		}

		if !admitted(sub, config.AllowExpiredGrace) {
			if config.OnDenied != nil {
				config.OnDenied(c, sub)
			} else {
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gongin.H{"error": "subscription required"})
			}
			return
		}

		c.Next()
	}
}

// FromHeader returns a UserIDExtractor that reads the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromContextKey returns a UserIDExtractor that reads the user ID previously
// stored on the Gin context (for example by an auth middleware)
func FromContextKey(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if userID, ok := c.Get(key); ok {
			if s, ok := userID.(string); ok {
				return s
			}
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

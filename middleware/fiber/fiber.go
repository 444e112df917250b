// Package fiber provides Fiber middleware that gates routes on an active
// subscription
package fiber

import (
	"errors"
	"net/http"
	"time"

	gofiber "github.com/gofiber/fiber/v2"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gofiber.Ctx) string

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
	OnDenied func(c *gofiber.Ctx, sub *gobilling.Subscription) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gofiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gofiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that admits only users with an
// active subscription
func Middleware(config Config) gofiber.Handler {
	return func(c *gofiber.Ctx) error {
		userID := config.GetUserID(c)
		if userID == "" {
			if config.OnUnauthorized != nil {
				return config.OnUnauthorized(c)
			}
			return c.Status(http.StatusUnauthorized).JSON(gofiber.Map{"error": "unauthorized"})
		}

		sub, err := config.Manager.SubscriptionForUser(c.Context(), userID)
		if err != nil && !errors.Is(err, gobilling.ErrSubscriptionNotFound) {
			if config.OnError != nil {
				return config.OnError(c, err)
			}
			return c.Status(http.StatusInternalServerError).JSON(gofiber.Map{"error": "internal error"})
		}

		if !admitted(sub, config.AllowExpiredGrace) {
			if config.OnDenied != nil {
				return config.OnDenied(c, sub)
			}
			return c.Status(http.StatusPaymentRequired).JSON(gofiber.Map{"error": "subscription required"})
		}

		return c.Next()
	}
}

// FromHeader returns a UserIDExtractor that reads the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gofiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromLocals returns a UserIDExtractor that reads the user ID previously
// stored in the request locals (for example by an auth middleware)
func FromLocals(key string) UserIDExtractor {
	return func(c *gofiber.Ctx) string {
		if userID, ok := c.Locals(key).(string); ok {
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

// Package http provides HTTP middleware that gates routes on an active
// subscription
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Manager is the billing manager instance
	Manager *gobilling.Manager

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// AllowExpiredGrace admits subscriptions whose status is no longer active
	// but whose paid period has not yet ended. Default: false.
	AllowExpiredGrace bool

	// OnDenied is called when the user has no active subscription
	// If nil, returns 402 Payment Required
	OnDenied func(w http.ResponseWriter, r *http.Request, sub *gobilling.Subscription)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that admits only users with an
// active subscription
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			sub, err := config.Manager.SubscriptionForUser(r.Context(), userID)
			if err != nil && !errors.Is(err, gobilling.ErrSubscriptionNotFound) {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !admitted(sub, config.AllowExpiredGrace) {
				if config.OnDenied != nil {
					config.OnDenied(w, r, sub)
				} else {
					http.Error(w, "Payment Required", http.StatusPaymentRequired)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates routes on an active
// subscription (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
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

// Helper functions for common extraction patterns

// FromHeader returns a UserIDExtractor that reads the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a UserIDExtractor that reads the user ID from the
// request context
func FromContext(key interface{}) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

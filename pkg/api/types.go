package api

import "github.com/flowkit/gobilling/pkg/gobilling"

// CheckoutRequest is the body for POST checkout-session requests
type CheckoutRequest struct {
	PackageID string `json:"packageId"`
}

// CheckoutResponse is returned after a checkout session is created
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// VerifyRequest is the body for POST verify requests
type VerifyRequest struct {
	SessionID string `json:"sessionId"`
}

// VerifyResponse is returned after a checkout session is verified
type VerifyResponse struct {
	Transaction *gobilling.Transaction `json:"transaction"`
}

// PackagesResponse lists the purchasable catalog
type PackagesResponse struct {
	Packages []*gobilling.Package `json:"packages"`
}

// UserPackageResponse joins the caller's latest transaction with its package
type UserPackageResponse struct {
	Transaction *gobilling.Transaction `json:"transaction"`
	Package     *gobilling.Package     `json:"package,omitempty"`
}

// SubscriptionResponse wraps the caller's subscription record
type SubscriptionResponse struct {
	Subscription *gobilling.Subscription `json:"subscription"`
}

// ErrorResponse is the JSON error body produced by the default error handler
type ErrorResponse struct {
	Error string `json:"error"`
}

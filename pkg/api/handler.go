// Package api provides framework-agnostic net/http handlers for the billing
// surface: checkout session creation, session verification, catalog reads,
// and the caller's purchase/subscription state. Webhook delivery is served by
// the gateway's own handler and mounted alongside these.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

const maxUserIDLen = 255

// maxRequestBody bounds JSON request bodies; billing requests are tiny.
const maxRequestBody = 64 * 1024

// Handler provides HTTP endpoints for the billing API
type Handler struct {
	config Config
}

// Register mounts all billing endpoints on the given mux:
//
//	POST /billing/checkout-sessions
//	POST /billing/verify
//	GET  /billing/packages
//	GET  /billing/packages/user
//	GET  /billing/subscription
//	POST /billing/webhook
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /billing/checkout-sessions", h.CreateCheckoutSession)
	mux.HandleFunc("POST /billing/verify", h.VerifySession)
	mux.HandleFunc("GET /billing/packages", h.ListPackages)
	mux.HandleFunc("GET /billing/packages/user", h.UserPackage)
	mux.HandleFunc("GET /billing/subscription", h.Subscription)
	mux.Handle("POST /billing/webhook", h.config.Gateway.WebhookHandler())
}

// CreateCheckoutSession starts a gateway checkout for the calling user
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.PackageID == "" {
		h.handleError(w, r, fmt.Errorf("packageId is required"), http.StatusBadRequest)
		return
	}

	intent, err := h.config.Gateway.CreateCheckoutSession(r.Context(), userID, req.PackageID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, CheckoutResponse{
		SessionID: intent.SessionID,
		URL:       intent.URL,
	})
}

// VerifySession confirms a completed checkout and returns the recorded transaction
func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req VerifyRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		h.handleError(w, r, fmt.Errorf("sessionId is required"), http.StatusBadRequest)
		return
	}

	txn, err := h.config.Gateway.VerifySession(r.Context(), req.SessionID, userID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, VerifyResponse{Transaction: txn})
}

// ListPackages returns the purchasable catalog
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.config.Manager.Packages(r.Context())
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if packages == nil {
		packages = []*gobilling.Package{}
	}
	h.writeJSON(w, http.StatusOK, PackagesResponse{Packages: packages})
}

// UserPackage returns the calling user's latest transaction joined with its package
func (h *Handler) UserPackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	txn, err := h.config.Manager.LatestTransaction(r.Context(), userID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	resp := UserPackageResponse{Transaction: txn}
	pkg, err := h.config.Manager.Package(r.Context(), txn.PackageID)
	if err == nil {
		resp.Package = pkg
	} else if !errors.Is(err, gobilling.ErrPackageNotFound) {
		h.mapError(w, r, err)
		return
	}
	// A transaction whose package was since removed from the catalog still
	// returns the transaction itself.

	h.writeJSON(w, http.StatusOK, resp)
}

// Subscription returns the calling user's subscription record
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	sub, err := h.config.Manager.SubscriptionForUser(r.Context(), userID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SubscriptionResponse{Subscription: sub})
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return false
	}
	return true
}

// mapError translates domain errors into HTTP status codes
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gobilling.ErrPackageNotFound),
		errors.Is(err, gobilling.ErrTransactionNotFound),
		errors.Is(err, gobilling.ErrSubscriptionNotFound):
		h.handleError(w, r, err, http.StatusNotFound)
	case errors.Is(err, gobilling.ErrUserMismatch):
		h.handleError(w, r, err, http.StatusForbidden)
	case errors.Is(err, gobilling.ErrSessionIncomplete):
		h.handleError(w, r, err, http.StatusBadRequest)
	default:
		h.config.Logger.Error("billing api request failed",
			gobilling.Field{Key: "path", Value: r.URL.Path},
			gobilling.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, fmt.Errorf("internal error"), http.StatusInternalServerError)
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	h.writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Response already sent; nothing useful to do
		_ = err
	}
}

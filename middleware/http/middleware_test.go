package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowkit/gobilling/pkg/gobilling"
	"github.com/flowkit/gobilling/storage/memory"
)

func testManager(t *testing.T) *gobilling.Manager {
	t.Helper()
	store := memory.New()
	manager, err := gobilling.NewManager(store, store, gobilling.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func reconcile(t *testing.T, manager *gobilling.Manager, userID string, status gobilling.SubscriptionStatus, periodEnd time.Time) {
	t.Helper()
	_, err := manager.ReconcileSubscription(context.Background(), gobilling.ReconcileRequest{
		UserID:                userID,
		GatewaySubscriptionID: "sub_" + userID,
		Status:                status,
		CurrentPeriodEnd:      periodEnd,
		EventTime:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}
}

func serve(mw func(http.Handler) http.Handler, userID string) *httptest.ResponseRecorder {
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ActiveSubscription(t *testing.T) {
	manager := testManager(t)
	reconcile(t, manager, "user1", gobilling.SubscriptionActive, time.Now().Add(24*time.Hour))

	mw := Middleware(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	})

	if rec := serve(mw, "user1"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for active subscriber, got %d", rec.Code)
	}
}

func TestMiddleware_NoSubscription(t *testing.T) {
	manager := testManager(t)

	mw := Middleware(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	})

	if rec := serve(mw, "user1"); rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402 without subscription, got %d", rec.Code)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager := testManager(t)

	mw := Middleware(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	})

	if rec := serve(mw, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without user, got %d", rec.Code)
	}
}

func TestMiddleware_ExpiredGrace(t *testing.T) {
	manager := testManager(t)
	reconcile(t, manager, "user1", gobilling.SubscriptionExpired, time.Now().Add(24*time.Hour))

	strict := Middleware(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	})
	if rec := serve(strict, "user1"); rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402 for expired subscription, got %d", rec.Code)
	}

	grace := Middleware(Config{
		Manager:           manager,
		GetUserID:         FromHeader("X-User-ID"),
		AllowExpiredGrace: true,
	})
	if rec := serve(grace, "user1"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 within grace period, got %d", rec.Code)
	}
}

func TestMiddleware_ExpiredGrace_PastPeriodEnd(t *testing.T) {
	manager := testManager(t)
	reconcile(t, manager, "user1", gobilling.SubscriptionExpired, time.Now().Add(-time.Hour))

	grace := Middleware(Config{
		Manager:           manager,
		GetUserID:         FromHeader("X-User-ID"),
		AllowExpiredGrace: true,
	})
	if rec := serve(grace, "user1"); rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402 past the paid period, got %d", rec.Code)
	}
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	manager := testManager(t)

	deniedCalled := false
	mw := Middleware(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
		OnDenied: func(w http.ResponseWriter, r *http.Request, sub *gobilling.Subscription) {
			deniedCalled = true
			w.WriteHeader(http.StatusTeapot)
		},
	})

	rec := serve(mw, "user1")
	if !deniedCalled {
		t.Error("Expected OnDenied to be called")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected custom status, got %d", rec.Code)
	}
}

func TestHandlerFunc(t *testing.T) {
	manager := testManager(t)
	reconcile(t, manager, "user1", gobilling.SubscriptionActive, time.Now().Add(24*time.Hour))

	wrap := HandlerFunc(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	})
	handler := wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	labecho "github.com/labstack/echo/v4"

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

func activateSubscription(t *testing.T, manager *gobilling.Manager, userID string) {
	t.Helper()
	_, err := manager.ReconcileSubscription(context.Background(), gobilling.ReconcileRequest{
		UserID:                userID,
		GatewaySubscriptionID: "sub_" + userID,
		Status:                gobilling.SubscriptionActive,
		CurrentPeriodEnd:      time.Now().Add(24 * time.Hour),
		EventTime:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}
}

func request(e *labecho.Echo, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newEcho(manager *gobilling.Manager) *labecho.Echo {
	e := labecho.New()
	e.GET("/premium", func(c labecho.Context) error {
		return c.String(http.StatusOK, "premium content")
	}, Middleware(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	}))
	return e
}

func TestMiddleware_ActiveSubscription(t *testing.T) {
	manager := testManager(t)
	activateSubscription(t, manager, "user1")

	rec := request(newEcho(manager), "user1")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for active subscriber, got %d", rec.Code)
	}
}

func TestMiddleware_NoSubscription(t *testing.T) {
	manager := testManager(t)

	rec := request(newEcho(manager), "user1")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402 without subscription, got %d", rec.Code)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager := testManager(t)

	rec := request(newEcho(manager), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without user, got %d", rec.Code)
	}
}

package fiber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gofiber "github.com/gofiber/fiber/v2"

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

func newApp(manager *gobilling.Manager) *gofiber.App {
	app := gofiber.New()
	app.Get("/premium", Middleware(Config{
		Manager:   manager,
		GetUserID: FromHeader("X-User-ID"),
	}), func(c *gofiber.Ctx) error {
		return c.SendString("premium content")
	})
	return app
}

func request(t *testing.T, app *gofiber.App, userID string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func TestMiddleware_ActiveSubscription(t *testing.T) {
	manager := testManager(t)
	_, err := manager.ReconcileSubscription(context.Background(), gobilling.ReconcileRequest{
		UserID:                "user1",
		GatewaySubscriptionID: "sub_user1",
		Status:                gobilling.SubscriptionActive,
		CurrentPeriodEnd:      time.Now().Add(24 * time.Hour),
		EventTime:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ReconcileSubscription failed: %v", err)
	}

	resp := request(t, newApp(manager), "user1")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for active subscriber, got %d", resp.StatusCode)
	}
}

func TestMiddleware_NoSubscription(t *testing.T) {
	manager := testManager(t)

	resp := request(t, newApp(manager), "user1")
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected 402 without subscription, got %d", resp.StatusCode)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager := testManager(t)

	resp := request(t, newApp(manager), "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without user, got %d", resp.StatusCode)
	}
}

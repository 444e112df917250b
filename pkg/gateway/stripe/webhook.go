package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/flowkit/gobilling/pkg/gateway/internal"
	"github.com/flowkit/gobilling/pkg/gobilling"
)

// handleWebhook authenticates and dispatches one Stripe event delivery.
//
// Response contract: 400 when signature verification fails (nothing was
// processed), 200 once the dispatched handler completed - including handlers
// that chose to no-op and unknown event types - and 500 when a handler
// failed, so Stripe retries the delivery instead of silently losing it.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, p.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(gatewayName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(gatewayName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	// The signature is computed over the raw body; verification must run on
	// the exact bytes read off the wire.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		p.metrics.RecordWebhookError(gatewayName, "auth_failed")
		return
	}

	ev, err := decodeEvent(&event)
	if err != nil {
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookError(gatewayName, "decode_error")
		return
	}
	kind := string(ev.Kind())

	if err := p.dispatch(r.Context(), ev); err != nil {
		p.logger.Error("webhook handler failed",
			gobilling.Field{Key: "kind", Value: kind},
			gobilling.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(gatewayName, kind, "error")
		p.metrics.RecordWebhookError(gatewayName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(gatewayName, kind, time.Since(startTime))
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})

	p.metrics.RecordWebhookEvent(gatewayName, kind, "success")
	p.metrics.RecordWebhookProcessingDuration(gatewayName, kind, time.Since(startTime))
}

// decodeEvent parses the verified Stripe event exactly once into the closed
// set of core event variants. Unknown event types decode to UnhandledEvent.
func decodeEvent(event *stripe.Event) (gobilling.Event, error) {
	header := gobilling.EventHeader{Timestamp: time.Unix(event.Created, 0).UTC()}

	switch event.Type {
	case "checkout.session.completed":
		session, err := unmarshalSession(event)
		if err != nil {
			return nil, err
		}
		subscriptionID := ""
		if session.Subscription != nil {
			subscriptionID = session.Subscription.ID
		}
		return gobilling.CheckoutSessionCompleted{
			EventHeader:    header,
			SessionID:      session.ID,
			PackageID:      session.Metadata[metadataPackageID],
			UserID:         session.Metadata[metadataUserID],
			SubscriptionID: subscriptionID,
			PaymentPaid:    session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
			SessionDone:    session.Status == stripe.CheckoutSessionStatusComplete,
		}, nil

	case "invoice.paid":
		subscriptionID, err := invoiceSubscriptionID(event)
		if err != nil {
			return nil, err
		}
		return gobilling.InvoicePaid{EventHeader: header, SubscriptionID: subscriptionID}, nil

	case "invoice.payment_failed":
		subscriptionID, err := invoiceSubscriptionID(event)
		if err != nil {
			return nil, err
		}
		return gobilling.InvoicePaymentFailed{EventHeader: header, SubscriptionID: subscriptionID}, nil

	case "customer.subscription.deleted":
		var subscription stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
		}
		return gobilling.SubscriptionDeleted{EventHeader: header, SubscriptionID: subscription.ID}, nil

	case "checkout.session.async_payment_failed":
		session, err := unmarshalSession(event)
		if err != nil {
			return nil, err
		}
		return gobilling.CheckoutAsyncPaymentFailed{EventHeader: header, SessionID: session.ID}, nil

	case "checkout.session.async_payment_succeeded":
		session, err := unmarshalSession(event)
		if err != nil {
			return nil, err
		}
		return gobilling.CheckoutAsyncPaymentSucceeded{EventHeader: header, SessionID: session.ID}, nil

	case "checkout.session.expired":
		session, err := unmarshalSession(event)
		if err != nil {
			return nil, err
		}
		return gobilling.CheckoutSessionExpired{EventHeader: header, SessionID: session.ID}, nil

	default:
		return gobilling.UnhandledEvent{EventHeader: header, ProviderType: string(event.Type)}, nil
	}
}

func unmarshalSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}
	return &session, nil
}

// invoiceSubscriptionID extracts the subscription id from an invoice event.
// The field appears either as an expanded object or as a bare id string
// depending on the API version, so it is probed from the raw JSON.
func invoiceSubscriptionID(event *stripe.Event) (string, error) {
	var rawData map[string]interface{}
	if err := json.Unmarshal(event.Data.Raw, &rawData); err != nil {
		return "", fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	switch v := rawData["subscription"].(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id, nil
		}
	case string:
		return v, nil
	}
	// Not a subscription invoice
	return "", nil
}

// dispatch routes a decoded event to its handler.
func (p *Provider) dispatch(ctx context.Context, ev gobilling.Event) error {
	switch ev := ev.(type) {
	case gobilling.CheckoutSessionCompleted:
		return p.handleCheckoutCompleted(ctx, ev)

	case gobilling.InvoicePaid:
		if ev.SubscriptionID == "" {
			// One-time purchase invoice - nothing to reconcile
			return nil
		}
		return p.reconcileFromGateway(ctx, ev.SubscriptionID, "", "", ev.OccurredAt())

	case gobilling.InvoicePaymentFailed:
		if ev.SubscriptionID == "" {
			return nil
		}
		_, err := p.manager.ReconcileSubscription(ctx, gobilling.ReconcileRequest{
			GatewaySubscriptionID: ev.SubscriptionID,
			Status:                gobilling.SubscriptionExpired,
			EventTime:             ev.OccurredAt(),
		})
		return err

	case gobilling.SubscriptionDeleted:
		_, err := p.manager.ReconcileSubscription(ctx, gobilling.ReconcileRequest{
			GatewaySubscriptionID: ev.SubscriptionID,
			Status:                gobilling.SubscriptionCanceled,
			EventTime:             ev.OccurredAt(),
		})
		return err

	case gobilling.CheckoutAsyncPaymentFailed:
		p.logger.Info("async payment failed",
			gobilling.Field{Key: "session_id", Value: ev.SessionID})
		return nil

	case gobilling.CheckoutAsyncPaymentSucceeded:
		p.logger.Info("async payment succeeded",
			gobilling.Field{Key: "session_id", Value: ev.SessionID})
		return nil

	case gobilling.CheckoutSessionExpired:
		p.logger.Info("checkout session expired",
			gobilling.Field{Key: "session_id", Value: ev.SessionID})
		return nil

	case gobilling.UnhandledEvent:
		p.logger.Info("unhandled event type",
			gobilling.Field{Key: "type", Value: ev.ProviderType})
		return nil

	default:
		p.logger.Warn("event variant without handler",
			gobilling.Field{Key: "kind", Value: string(ev.Kind())})
		return nil
	}
}

// handleCheckoutCompleted records the Transaction for a terminal checkout and,
// for recurring purchases, reconciles the Subscription against the gateway's
// live view.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, ev gobilling.CheckoutSessionCompleted) error {
	if !ev.PaymentPaid || !ev.SessionDone {
		// Partial and pending checkout states are not terminal; the gateway
		// will emit another event when they resolve.
		p.logger.Debug("ignoring non-terminal checkout event",
			gobilling.Field{Key: "session_id", Value: ev.SessionID})
		return nil
	}

	if ev.PackageID == "" || ev.UserID == "" {
		// Without metadata there is nothing correct to record. Acknowledge:
		// redelivery would carry the same payload.
		p.logger.Error("checkout session missing purchase metadata",
			gobilling.Field{Key: "session_id", Value: ev.SessionID})
		return nil
	}

	_, _, err := p.manager.RecordTransaction(ctx, &gobilling.TransactionRecord{
		UserID:                ev.UserID,
		PackageID:             ev.PackageID,
		GatewaySessionID:      ev.SessionID,
		GatewaySubscriptionID: ev.SubscriptionID,
	})
	if errors.Is(err, gobilling.ErrPackageNotFound) {
		p.logger.Error("package not found for completed checkout",
			gobilling.Field{Key: "session_id", Value: ev.SessionID},
			gobilling.Field{Key: "package_id", Value: ev.PackageID},
		)
		return nil
	}
	if err != nil {
		return err
	}

	if ev.SubscriptionID != "" {
		return p.reconcileFromGateway(ctx, ev.SubscriptionID, ev.UserID, ev.PackageID, ev.OccurredAt())
	}
	return nil
}

// reconcileFromGateway fetches the gateway's current view of a subscription
// and upserts the local record from it.
func (p *Provider) reconcileFromGateway(ctx context.Context, subscriptionID, userID, packageID string, eventTime time.Time) error {
	startTime := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	sub, err := p.client.V1Subscriptions.Retrieve(callCtx, subscriptionID, nil)
	p.metrics.RecordGatewayCallDuration(gatewayName, "/subscriptions/retrieve", time.Since(startTime))
	if err != nil {
		p.metrics.RecordGatewayCall(gatewayName, "/subscriptions/retrieve", "error")
		return fmt.Errorf("%w: retrieve subscription %s: %v", gobilling.ErrGatewayUnavailable, subscriptionID, err)
	}
	p.metrics.RecordGatewayCall(gatewayName, "/subscriptions/retrieve", "success")

	status := gobilling.SubscriptionExpired
	if sub.Status == stripe.SubscriptionStatusActive {
		status = gobilling.SubscriptionActive
	}

	_, err = p.manager.ReconcileSubscription(ctx, gobilling.ReconcileRequest{
		UserID:                userID,
		PackageID:             packageID,
		GatewaySubscriptionID: subscriptionID,
		Status:                status,
		CurrentPeriodEnd:      currentPeriodEnd(sub),
		EventTime:             eventTime,
	})
	return err
}

// currentPeriodEnd derives the subscription's period end from its items
// (where the API reports per-item periods, the latest one wins).
func currentPeriodEnd(sub *stripe.Subscription) time.Time {
	var latest int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > latest {
				latest = item.CurrentPeriodEnd
			}
		}
	}
	if latest == 0 {
		return time.Time{}
	}
	return time.Unix(latest, 0).UTC()
}

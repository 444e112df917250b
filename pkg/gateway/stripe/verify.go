package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// VerifySession implements gobilling.Gateway. The client calls this after the
// checkout redirect, racing the asynchronous webhook; both paths converge on
// the same stored Transaction through the manager's idempotent create.
func (p *Provider) VerifySession(ctx context.Context, sessionID, userID string) (*gobilling.Transaction, error) {
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("session id and user id are required")
	}

	startTime := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	session, err := p.client.V1CheckoutSessions.Retrieve(callCtx, sessionID, nil)
	p.metrics.RecordGatewayCallDuration(gatewayName, "/checkout/sessions/retrieve", time.Since(startTime))
	if err != nil {
		p.metrics.RecordGatewayCall(gatewayName, "/checkout/sessions/retrieve", "error")
		return nil, fmt.Errorf("%w: retrieve checkout session: %v", gobilling.ErrGatewayUnavailable, err)
	}
	p.metrics.RecordGatewayCall(gatewayName, "/checkout/sessions/retrieve", "success")

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid ||
		session.Status != stripe.CheckoutSessionStatusComplete {
		p.logger.Debug("session not paid and complete",
			gobilling.Field{Key: "session_id", Value: sessionID},
			gobilling.Field{Key: "payment_status", Value: string(session.PaymentStatus)},
			gobilling.Field{Key: "status", Value: string(session.Status)},
		)
		return nil, gobilling.ErrSessionIncomplete
	}

	packageID := session.Metadata[metadataPackageID]
	sessionUserID := session.Metadata[metadataUserID]

	// The caller-supplied user id is an authorization check, not trust: the
	// gateway session metadata is authoritative.
	if sessionUserID != userID {
		p.logger.Warn("user id mismatch on session verify",
			gobilling.Field{Key: "session_id", Value: sessionID},
			gobilling.Field{Key: "session_user_id", Value: sessionUserID},
			gobilling.Field{Key: "caller_user_id", Value: userID},
		)
		return nil, gobilling.ErrUserMismatch
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	tx, _, err := p.manager.RecordTransaction(ctx, &gobilling.TransactionRecord{
		UserID:                userID,
		PackageID:             packageID,
		GatewaySessionID:      sessionID,
		GatewaySubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

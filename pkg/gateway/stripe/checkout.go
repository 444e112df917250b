package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/flowkit/gobilling/pkg/gobilling"
)

// Metadata keys carried on every checkout session so the webhook and verify
// paths can recover purchase context without a side lookup.
const (
	metadataPackageID = "packageId"
	metadataUserID    = "userId"
)

// CreateCheckoutSession implements gobilling.Gateway. It looks up the catalog
// package, opens a Stripe Checkout Session in the mode the package's billing
// period implies, and returns the session id and hosted URL. Nothing is
// written locally: a Transaction only exists once the gateway reports the
// session complete.
func (p *Provider) CreateCheckoutSession(ctx context.Context, userID, packageID string) (*gobilling.CheckoutIntent, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	pkg, err := p.manager.Package(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("package lookup for %s: %w", packageID, err)
	}

	mode := stripe.CheckoutSessionModePayment
	if pkg.BillingPeriod.Recurring() {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(pkg.GatewayPriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
	}
	params.Metadata = map[string]string{
		metadataPackageID: pkg.PackageID,
		metadataUserID:    userID,
	}

	startTime := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	session, err := p.client.V1CheckoutSessions.Create(callCtx, params)
	p.metrics.RecordGatewayCallDuration(gatewayName, "/checkout/sessions", time.Since(startTime))
	if err != nil {
		p.metrics.RecordGatewayCall(gatewayName, "/checkout/sessions", "error")
		return nil, fmt.Errorf("%w: create checkout session: %v", gobilling.ErrGatewayUnavailable, err)
	}
	p.metrics.RecordGatewayCall(gatewayName, "/checkout/sessions", "success")

	p.logger.Info("checkout session created",
		gobilling.Field{Key: "session_id", Value: session.ID},
		gobilling.Field{Key: "package_id", Value: pkg.PackageID},
		gobilling.Field{Key: "user_id", Value: userID},
		gobilling.Field{Key: "mode", Value: string(mode)},
	)

	return &gobilling.CheckoutIntent{
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}

package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/flowkit/gobilling/pkg/gateway/internal"
	"github.com/flowkit/gobilling/pkg/gobilling"
)

const (
	gatewayName              = "stripe"
	defaultCallTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultMaxBodyBytes      = 256 * 1024
)

// Config configures the Stripe gateway adapter.
type Config struct {
	// Manager is the billing manager that holds the persistence invariants (required)
	Manager *gobilling.Manager

	// APIKey is the Stripe secret key for outbound API calls (required)
	APIKey string

	// WebhookSecret is the endpoint signing secret used to verify inbound
	// event deliveries (required for the webhook handler)
	WebhookSecret string

	// SuccessURL is where Stripe redirects after a completed checkout.
	// Supports the {CHECKOUT_SESSION_ID} template placeholder.
	SuccessURL string

	// CancelURL is where Stripe redirects after an abandoned checkout
	CancelURL string

	// CallTimeout bounds every outbound Stripe API call. Defaults to 10s.
	CallTimeout time.Duration

	// MaxBodyBytes caps the webhook payload size. Defaults to 256 KiB.
	MaxBodyBytes int64

	// Logger receives structured logs. Defaults to NoopLogger.
	Logger gobilling.Logger

	// Metrics receives webhook and API call metrics. Defaults to NoopMetrics.
	Metrics gobilling.Metrics
}

// Provider implements gobilling.Gateway for Stripe. The Stripe client is
// constructed once here and injected wherever it is needed; there is no
// package-level client state.
type Provider struct {
	manager       *gobilling.Manager
	client        *stripe.Client
	webhookSecret []byte
	successURL    string
	cancelURL     string
	callTimeout   time.Duration
	maxBodyBytes  int64
	rateLimiter   *internal.RateLimiter
	logger        gobilling.Logger
	metrics       gobilling.Metrics
}

// NewProvider creates a new Stripe gateway adapter.
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, gobilling.ErrGatewayNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, gobilling.ErrGatewayNotConfigured
	}

	callTimeout := config.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	maxBodyBytes := config.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	logger := config.Logger
	if logger == nil {
		logger = &gobilling.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &gobilling.NoopMetrics{}
	}

	return &Provider{
		manager:       config.Manager,
		client:        stripe.NewClient(apiKey),
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		successURL:    config.SuccessURL,
		cancelURL:     config.CancelURL,
		callTimeout:   callTimeout,
		maxBodyBytes:  maxBodyBytes,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Name implements gobilling.Gateway.
func (p *Provider) Name() string {
	return gatewayName
}

// WebhookHandler implements gobilling.Gateway. The handler is wrapped with
// per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

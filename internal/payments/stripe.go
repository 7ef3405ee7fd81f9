package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/turnero/hospital-core/pkg/logging"
)

var stripeTracer = otel.Tracer("hospital.internal.payments.stripe")

// StripeGateway creates Stripe Checkout Sessions for turn payments via the
// raw HTTP API. Metadata carries the payment id so webhook events can be
// mapped back without a session lookup.
type StripeGateway struct {
	secretKey  string
	successURL string
	cancelURL  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

// NewStripeGateway creates a Stripe-backed checkout gateway.
func NewStripeGateway(secretKey, successURL, cancelURL string, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeGateway{
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (g *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
	return g
}

// WithDryRun enables dry-run mode (returns fake URLs without calling Stripe).
func (g *StripeGateway) WithDryRun(enabled bool) *StripeGateway {
	g.dryRun = enabled
	return g
}

// CreateCheckoutSession implements CheckoutGateway for Stripe.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("hospital.payment_id", params.PaymentID.String()),
		attribute.Int("hospital.amount_cents", int(params.AmountCents)),
	)

	if g.dryRun {
		fakeID := "cs_dryrun_" + uuid.New().String()[:8]
		g.logger.Info("stripe dry run: skipping checkout session creation",
			"payment_id", params.PaymentID, "amount_cents", params.AmountCents)
		return &CheckoutSession{
			ID:  fakeID,
			URL: fmt.Sprintf("https://checkout.stripe.com/dry-run/%s", fakeID),
		}, nil
	}

	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	description := params.Description
	if strings.TrimSpace(description) == "" {
		description = "Medical appointment"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", params.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][quantity]", "1")

	if g.successURL != "" {
		form.Set("success_url", g.successURL)
	}
	if g.cancelURL != "" {
		form.Set("cancel_url", g.cancelURL)
	}

	// Metadata for webhook processing
	form.Set("metadata[payment_id]", params.PaymentID.String())
	form.Set("metadata[turn_id]", params.TurnID.String())
	form.Set("metadata[user_id]", params.UserID.String())
	form.Set("payment_intent_data[metadata][payment_id]", params.PaymentID.String())
	form.Set("payment_intent_data[metadata][turn_id]", params.TurnID.String())

	apiURL := g.baseURL + "/v1/checkout/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", g.apiVersion)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(body))
	}

	var parsed stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payments: stripe decode: %w", err)
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing checkout url")
	}

	return &CheckoutSession{ID: parsed.ID, URL: parsed.URL}, nil
}

// stripeCheckoutSession is the subset of Stripe's Checkout Session we need.
type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

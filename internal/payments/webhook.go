package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turnero/hospital-core/internal/observability/metrics"
	"github.com/turnero/hospital-core/pkg/logging"
)

// statusForEvent maps gateway event types to the lifecycle state they imply.
// Events outside this map are acknowledged and ignored.
var statusForEvent = map[string]Status{
	"checkout.session.completed":            StatusSucceeded,
	"checkout.session.expired":              StatusCancelled,
	"checkout.session.async_payment_failed": StatusFailed,
}

// StripeWebhookHandler applies Stripe checkout events to the payment
// lifecycle. Events that arrive late or duplicated hit the transition guard
// and are acknowledged rather than retried, since a webhook redelivery can
// never fix an already-moved payment.
type StripeWebhookHandler struct {
	webhookSecret string
	service       *Service
	logger        *logging.Logger
	metrics       *metrics.PaymentMetrics
}

// NewStripeWebhookHandler creates a new handler for Stripe webhooks.
func NewStripeWebhookHandler(webhookSecret string, service *Service, logger *logging.Logger, m *metrics.PaymentMetrics) *StripeWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{webhookSecret: webhookSecret, service: service, logger: logger, metrics: m}
}

// Handle processes incoming Stripe webhook events.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifyStripeSignature(h.webhookSecret, payload, sigHeader) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	next, handled := statusForEvent[evt.Type]
	if !handled {
		h.metrics.ObserveWebhook(evt.Type, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	payment, err := h.resolvePayment(r, evt.Data.Object)
	if errors.Is(err, ErrPaymentNotFound) {
		h.logger.Warn("stripe webhook for unknown payment",
			"event_id", evt.ID, "session_id", evt.Data.Object.ID)
		h.metrics.ObserveWebhook(evt.Type, "unknown_payment")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.logger.Error("payment lookup failed", "error", err, "event_id", evt.ID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	patch := StatusPatch{
		Status:           next,
		GatewaySessionID: evt.Data.Object.ID,
		Metadata: map[string]any{
			"gateway_event_id":   evt.ID,
			"gateway_event_type": evt.Type,
			"gateway_event_at":   time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
		},
	}
	if ref := evt.Data.Object.PaymentIntent; ref != "" {
		patch.Metadata["gateway_payment_intent"] = ref
	}

	if _, err := h.service.UpdateStatus(r.Context(), payment.ID, patch); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Late or duplicate delivery; the payment already moved on.
			h.logger.Warn("stripe webhook ignored by transition guard",
				"event_id", evt.ID, "payment_id", payment.ID, "status", payment.Status, "wanted", next)
			h.metrics.ObserveWebhook(evt.Type, "guarded")
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("failed to update payment record", "error", err, "payment_id", payment.ID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.metrics.ObserveWebhook(evt.Type, "applied")
	w.WriteHeader(http.StatusOK)
}

// resolvePayment finds the payment the event refers to, preferring the
// payment_id metadata set at session creation and falling back to the
// session id.
func (h *StripeWebhookHandler) resolvePayment(r *http.Request, session stripeSessionObject) (*Payment, error) {
	if raw := session.Metadata["payment_id"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("payments: bad payment_id metadata %q: %w", raw, ErrPaymentNotFound)
		}
		return h.service.GetPayment(r.Context(), id)
	}
	if session.ID == "" {
		return nil, ErrPaymentNotFound
	}
	return h.service.GetPaymentBySession(r.Context(), session.ID)
}

// stripeWebhookEvent represents a Stripe webhook event envelope.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeSessionObject `json:"object"`
	} `json:"data"`
}

// stripeSessionObject is the checkout.session object from the webhook.
type stripeSessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	Status        string            `json:"status"`
}

// verifyStripeSignature verifies a Stripe webhook signature.
// Stripe signs with HMAC-SHA256 and sends the signature in the
// Stripe-Signature header as: t=<timestamp>,v1=<signature>[,v0=<test_signature>]
func verifyStripeSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	// Check timestamp tolerance (5 minutes)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

const testWebhookSecret = "whsec_test"

func signPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookFixture(t *testing.T) (*StripeWebhookHandler, *Service, *Payment) {
	t.Helper()
	store := newFakeStore()
	svc := NewService(store, nil, nil, nil, nil)
	payment, err := svc.CreatePaymentForTurn(context.Background(), testTurn(), CreatePaymentParams{Method: MethodStripe})
	if err != nil {
		t.Fatalf("fixture payment: %v", err)
	}
	if err := store.AttachCheckoutSession(context.Background(), payment.ID, "cs_fixture", "https://checkout/cs_fixture"); err != nil {
		t.Fatalf("attach session: %v", err)
	}
	return NewStripeWebhookHandler(testWebhookSecret, svc, nil, nil), svc, payment
}

func deliverEvent(t *testing.T, handler *StripeWebhookHandler, payload string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	if sign {
		req.Header.Set("Stripe-Signature", signPayload(testWebhookSecret, []byte(payload)))
	}
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	return rec
}

func completedEvent(paymentID uuid.UUID) string {
	return fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": %d,
		"data": {"object": {"id": "cs_fixture", "payment_intent": "pi_9", "metadata": {"payment_id": %q}}}
	}`, time.Now().Unix(), paymentID)
}

func TestWebhookCompletedMarksSucceeded(t *testing.T) {
	handler, svc, payment := newWebhookFixture(t)

	rec := deliverEvent(t, handler, completedEvent(payment.ID), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	updated, err := svc.GetPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if updated.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", updated.Status)
	}
	if updated.Metadata["gateway_payment_intent"] != "pi_9" {
		t.Fatalf("expected payment intent recorded, got %v", updated.Metadata)
	}
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	handler, svc, payment := newWebhookFixture(t)

	rec := deliverEvent(t, handler, completedEvent(payment.ID), false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	current, _ := svc.GetPayment(context.Background(), payment.ID)
	if current.Status != StatusPending {
		t.Fatalf("unverified event must not move the payment, got %s", current.Status)
	}
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	handler, _, _ := newWebhookFixture(t)
	payload := `{"id": "evt_2", "type": "invoice.paid", "data": {"object": {}}}`

	rec := deliverEvent(t, handler, payload, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown event type should be acknowledged, got %d", rec.Code)
	}
}

func TestWebhookLateEventHitsGuardAndAcks(t *testing.T) {
	handler, svc, payment := newWebhookFixture(t)
	if _, err := svc.TransitionStatus(context.Background(), payment.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel fixture: %v", err)
	}

	// Delivery arrives after the payment was cancelled; redelivering can
	// never fix it, so the handler acknowledges.
	rec := deliverEvent(t, handler, completedEvent(payment.ID), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("guarded event should be acknowledged, got %d", rec.Code)
	}
	current, _ := svc.GetPayment(context.Background(), payment.ID)
	if current.Status != StatusCancelled {
		t.Fatalf("guard must keep the payment cancelled, got %s", current.Status)
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	handler, svc, payment := newWebhookFixture(t)

	for i := 0; i < 2; i++ {
		rec := deliverEvent(t, handler, completedEvent(payment.ID), true)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}
	current, _ := svc.GetPayment(context.Background(), payment.ID)
	if current.Status != StatusSucceeded {
		t.Fatalf("expected succeeded after duplicate delivery, got %s", current.Status)
	}
}

func TestWebhookUnknownPaymentAcknowledged(t *testing.T) {
	handler, _, _ := newWebhookFixture(t)

	rec := deliverEvent(t, handler, completedEvent(uuid.New()), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown payment should be acknowledged, got %d", rec.Code)
	}
}

func TestWebhookResolvesBySessionID(t *testing.T) {
	handler, svc, payment := newWebhookFixture(t)
	payload := fmt.Sprintf(`{
		"id": "evt_3",
		"type": "checkout.session.expired",
		"created": %d,
		"data": {"object": {"id": "cs_fixture"}}
	}`, time.Now().Unix())

	rec := deliverEvent(t, handler, payload, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	current, _ := svc.GetPayment(context.Background(), payment.ID)
	if current.Status != StatusCancelled {
		t.Fatalf("expired session should cancel, got %s", current.Status)
	}
}

func TestVerifyStripeSignatureRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	ts := time.Now().Add(-time.Hour).Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	if verifyStripeSignature(testWebhookSecret, payload, header) {
		t.Fatal("stale timestamp must be rejected")
	}
}

package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestStripeCheckoutSessionRequest(t *testing.T) {
	paymentID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("line_items[0][price_data][unit_amount]"); got != "4500" {
			t.Errorf("unexpected unit_amount: %q", got)
		}
		if got := r.PostForm.Get("line_items[0][price_data][currency]"); got != "usd" {
			t.Errorf("unexpected currency: %q", got)
		}
		if got := r.PostForm.Get("metadata[payment_id]"); got != paymentID.String() {
			t.Errorf("unexpected payment_id metadata: %q", got)
		}
		if got := r.PostForm.Get("success_url"); got != "https://hospital.example/ok" {
			t.Errorf("unexpected success_url: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/cs_test_1"}`))
	}))
	defer server.Close()

	gateway := NewStripeGateway("sk_test_123", "https://hospital.example/ok", "https://hospital.example/cancel", nil).
		WithBaseURL(server.URL)

	session, err := gateway.CreateCheckoutSession(context.Background(), CheckoutParams{
		PaymentID:   paymentID,
		TurnID:      uuid.New(),
		UserID:      uuid.New(),
		AmountCents: 4500,
		Description: "Consultation",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL != "https://checkout.stripe.com/c/cs_test_1" {
		t.Fatalf("unexpected session: %#v", session)
	}
}

func TestStripeAPIErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"card declined"}}`))
	}))
	defer server.Close()

	gateway := NewStripeGateway("sk_test_123", "", "", nil).WithBaseURL(server.URL)
	_, err := gateway.CreateCheckoutSession(context.Background(), CheckoutParams{AmountCents: 100})
	if err == nil {
		t.Fatal("expected error from api failure")
	}
	if !strings.Contains(err.Error(), "402") {
		t.Fatalf("error should carry the status code: %v", err)
	}
}

func TestStripeDryRunSkipsNetwork(t *testing.T) {
	gateway := NewStripeGateway("sk_test_123", "", "", nil).
		WithBaseURL("http://127.0.0.1:1"). // would fail if dialed
		WithDryRun(true)

	session, err := gateway.CreateCheckoutSession(context.Background(), CheckoutParams{AmountCents: 100})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.HasPrefix(session.ID, "cs_dryrun_") {
		t.Fatalf("unexpected dry run id: %q", session.ID)
	}
}

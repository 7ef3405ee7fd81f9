package payments

import (
	"context"

	"github.com/google/uuid"
)

// CheckoutParams is what the gateway needs to build a hosted checkout page.
type CheckoutParams struct {
	PaymentID   uuid.UUID
	TurnID      uuid.UUID
	UserID      uuid.UUID
	AmountCents int64
	Currency    string
	Description string
}

// CheckoutSession is the gateway's handle for a created checkout page.
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutGateway creates hosted checkout sessions. The Stripe implementation
// is the default; tests substitute fakes.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
}

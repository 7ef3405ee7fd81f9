// Package payments tracks the money side of a turn: one payment per turn,
// itemized per service, moved through a guarded status lifecycle by the API
// and by gateway webhooks.
package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a payment lifecycle state. Transitions are restricted to the
// allowedTransitions table; everything else is rejected.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// allowedTransitions is the full lifecycle. Cancelled is terminal. A
// succeeded payment can still be cancelled (refund flow); a failed one can be
// retried back to pending.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusFailed:    {StatusPending, StatusCancelled},
	StatusSucceeded: {StatusCancelled},
	StatusCancelled: {},
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle permits moving from s to
// next. A no-op transition (s == next) is not in the table; callers decide
// whether to treat it as idempotent.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Method is how the patient pays.
type Method string

const (
	MethodStripe Method = "stripe"
	MethodCash   Method = "cash"
)

// Valid reports whether m is a supported payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodStripe, MethodCash:
		return true
	}
	return false
}

var (
	// ErrPaymentNotFound is returned when a payment id or gateway session
	// does not resolve.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidTransition is returned when a status change is outside the
	// lifecycle table. The wrapped message names both states.
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Payment is the money record paired with a turn. Amounts are integer cents.
type Payment struct {
	ID               uuid.UUID      `json:"id"`
	UserID           uuid.UUID      `json:"user_id"`
	TurnID           uuid.UUID      `json:"turn_id"`
	Status           Status         `json:"status"`
	Method           Method         `json:"method"`
	AmountCents      int64          `json:"amount_cents"`
	Currency         string         `json:"currency"`
	GatewaySessionID string         `json:"gateway_session_id,omitempty"`
	CheckoutURL      string         `json:"checkout_url,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Item is one priced line of a payment, snapshotted from the turn's services
// at creation time so later catalog edits do not change what was charged.
type Item struct {
	ID          uuid.UUID `json:"id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	ServiceID   uuid.UUID `json:"service_id"`
	Name        string    `json:"name"`
	AmountCents int64     `json:"amount_cents"`
}

// StatusPatch carries the fields a status change may update alongside the
// state itself. Metadata entries are merged into the stored document.
type StatusPatch struct {
	Status           Status
	GatewaySessionID string
	Metadata         map[string]any
}

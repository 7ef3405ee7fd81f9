package payments

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/turnero/hospital-core/internal/observability/metrics"
	"github.com/turnero/hospital-core/internal/scheduling"
	"github.com/turnero/hospital-core/pkg/logging"
)

var paymentsTracer = otel.Tracer("hospital.internal.payments")

// Store is the persistence surface the service needs; Repository implements
// it, tests use in-memory fakes.
type Store interface {
	Create(ctx context.Context, payment *Payment, items []Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByGatewaySessionID(ctx context.Context, sessionID string) (*Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from Status, patch StatusPatch) (*Payment, error)
	AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID, url string) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// InsuranceResolver maps a health insurance plan to a price multiplier.
type InsuranceResolver interface {
	DiscountMultiplier(ctx context.Context, insuranceID uuid.UUID) (float64, error)
}

// Service owns the payment lifecycle: creation from a priced turn and guarded
// status transitions.
type Service struct {
	store     Store
	gateway   CheckoutGateway
	insurance InsuranceResolver
	logger    *logging.Logger
	metrics   *metrics.PaymentMetrics
}

// NewService wires the payment service. gateway and insurance may be nil;
// payments then skip checkout links and discounts respectively.
func NewService(store Store, gateway CheckoutGateway, insurance InsuranceResolver, logger *logging.Logger, m *metrics.PaymentMetrics) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, gateway: gateway, insurance: insurance, logger: logger, metrics: m}
}

// CreatePaymentParams describes the payment to open for a turn.
type CreatePaymentParams struct {
	Method            Method
	Currency          string
	HealthInsuranceID uuid.UUID
}

// CreatePaymentForTurn opens a pending payment priced from the turn's service
// snapshots, applying the insurance discount when a plan is given. For stripe
// payments a checkout session is requested afterwards; a gateway failure is
// logged and leaves the payment pending without a checkout URL, so a later
// retry or manual settlement can still complete it.
func (s *Service) CreatePaymentForTurn(ctx context.Context, turn *scheduling.Turn, params CreatePaymentParams) (*Payment, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.create_for_turn")
	defer span.End()
	span.SetAttributes(attribute.String("hospital.turn_id", turn.ID.String()))

	multiplier := 1.0
	if s.insurance != nil && params.HealthInsuranceID != uuid.Nil {
		m, err := s.insurance.DiscountMultiplier(ctx, params.HealthInsuranceID)
		if err != nil {
			return nil, err
		}
		multiplier = m
	}

	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}
	method := params.Method
	if method == "" {
		method = MethodStripe
	}

	now := time.Now().UTC()
	payment := &Payment{
		ID:          uuid.New(),
		UserID:      turn.UserID,
		TurnID:      turn.ID,
		Status:      StatusPending,
		Method:      method,
		AmountCents: discounted(turn.PriceTotalCents(), multiplier),
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	items := make([]Item, 0, len(turn.Services))
	for _, service := range turn.Services {
		items = append(items, Item{
			ID:          uuid.New(),
			PaymentID:   payment.ID,
			ServiceID:   service.ID,
			Name:        service.Name,
			AmountCents: discounted(service.PriceCents, multiplier),
		})
	}

	if err := s.store.Create(ctx, payment, items); err != nil {
		s.metrics.ObserveCheckout("store_error")
		return nil, err
	}

	if method == MethodStripe && s.gateway != nil {
		session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
			PaymentID:   payment.ID,
			TurnID:      turn.ID,
			UserID:      turn.UserID,
			AmountCents: payment.AmountCents,
			Currency:    currency,
			Description: checkoutDescription(turn),
		})
		if err != nil {
			// The payment stays pending without a link rather than failing
			// the whole request.
			s.logger.Warn("checkout session creation failed, payment left pending",
				"payment_id", payment.ID, "error", err)
			s.metrics.ObserveCheckout("gateway_error")
			return payment, nil
		}
		if err := s.store.AttachCheckoutSession(ctx, payment.ID, session.ID, session.URL); err != nil {
			s.metrics.ObserveCheckout("store_error")
			return nil, err
		}
		payment.GatewaySessionID = session.ID
		payment.CheckoutURL = session.URL
	}

	s.metrics.ObserveCheckout("ok")
	s.logger.Info("payment opened",
		"payment_id", payment.ID, "turn_id", turn.ID, "amount_cents", payment.AmountCents, "method", method)
	return payment, nil
}

// UpdateStatus applies a guarded status change. Re-applying the current
// status skips the lifecycle check and still writes the patch, so the row's
// updated_at records the delivery; any transition outside the lifecycle
// table fails with ErrInvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, patch StatusPatch) (*Payment, error) {
	if !patch.Status.Valid() {
		return nil, fmt.Errorf("payments: unknown status %q", patch.Status)
	}
	payment, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status == patch.Status {
		s.metrics.ObserveTransition(string(payment.Status), string(patch.Status), "noop")
		return s.store.UpdateStatus(ctx, id, payment.Status, patch)
	}
	if !payment.Status.CanTransitionTo(patch.Status) {
		s.metrics.ObserveTransition(string(payment.Status), string(patch.Status), "rejected")
		return nil, invalidTransition(payment.Status, patch.Status)
	}

	updated, err := s.store.UpdateStatus(ctx, id, payment.Status, patch)
	if err != nil {
		s.metrics.ObserveTransition(string(payment.Status), string(patch.Status), "error")
		return nil, err
	}
	s.metrics.ObserveTransition(string(payment.Status), string(patch.Status), "ok")
	s.logger.Info("payment status changed",
		"payment_id", id, "from", payment.Status, "to", patch.Status)
	return updated, nil
}

// TransitionStatus is UpdateStatus without extra fields.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, next Status) (*Payment, error) {
	return s.UpdateStatus(ctx, id, StatusPatch{Status: next})
}

// GetPayment loads a payment by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.store.GetByID(ctx, id)
}

// GetPaymentBySession resolves a payment from a gateway checkout session id.
func (s *Service) GetPaymentBySession(ctx context.Context, sessionID string) (*Payment, error) {
	return s.store.GetByGatewaySessionID(ctx, sessionID)
}

// ListPayments returns the user's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	return s.store.ListByUser(ctx, userID)
}

// DeletePayment removes a payment and its items.
func (s *Service) DeletePayment(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

func discounted(amountCents int64, multiplier float64) int64 {
	if multiplier == 1 {
		return amountCents
	}
	return int64(math.Round(float64(amountCents) * multiplier))
}

func checkoutDescription(turn *scheduling.Turn) string {
	if len(turn.Services) == 1 {
		return turn.Services[0].Name
	}
	return fmt.Sprintf("Medical appointment (%d services)", len(turn.Services))
}

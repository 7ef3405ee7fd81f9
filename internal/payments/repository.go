package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the slice of pgxpool.Pool the repository needs; pgxmock satisfies it
// in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists payments and their items in Postgres.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

const paymentColumns = `id, user_id, turn_id, status, method, amount_cents, currency,
	COALESCE(gateway_session_id, ''), COALESCE(checkout_url, ''), metadata, created_at, updated_at`

// Create inserts the payment and its items in one transaction.
func (r *Repository) Create(ctx context.Context, payment *Payment, items []Item) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments (id, user_id, turn_id, status, method, amount_cents, currency, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, payment.ID, payment.UserID, payment.TurnID, payment.Status, payment.Method,
		payment.AmountCents, payment.Currency, payment.Metadata, payment.CreatedAt, payment.UpdatedAt); err != nil {
		return fmt.Errorf("payments: insert payment: %w", err)
	}
	for _, item := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO payment_items (id, payment_id, service_id, name, amount_cents)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ID, item.PaymentID, item.ServiceID, item.Name, item.AmountCents); err != nil {
			return fmt.Errorf("payments: insert payment item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payments: commit create tx: %w", err)
	}
	return nil
}

// GetByID loads a payment.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByGatewaySessionID resolves a payment from the checkout session the
// gateway reports in webhooks.
func (r *Repository) GetByGatewaySessionID(ctx context.Context, sessionID string) (*Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_session_id = $1`, sessionID)
	return scanPayment(row)
}

// UpdateStatus moves a payment from the expected current status into
// patch.Status. The status predicate makes the guard hold under concurrent
// writers: if another request moved the payment first, no row matches and
// ErrPaymentNotFound comes back for the caller to re-read and re-check.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from Status, patch StatusPatch) (*Payment, error) {
	metadata := patch.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	row := r.db.QueryRow(ctx, `
		UPDATE payments
		SET status = $3,
		    gateway_session_id = COALESCE(NULLIF($4, ''), gateway_session_id),
		    metadata = COALESCE(metadata, '{}'::jsonb) || $5,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+paymentColumns,
		id, from, patch.Status, patch.GatewaySessionID, metadata)
	return scanPayment(row)
}

// AttachCheckoutSession stores the gateway session and hosted checkout URL
// on a freshly created payment.
func (r *Repository) AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID, url string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET gateway_session_id = $2, checkout_url = $3, updated_at = NOW() WHERE id = $1
	`, id, sessionID, url)
	if err != nil {
		return fmt.Errorf("payments: attach checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ListByUser returns the user's payments, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("payments: list by user: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		payment, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: iterate payments: %w", err)
	}
	return payments, nil
}

// Delete removes a payment and its items in one transaction.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM payment_items WHERE payment_id = $1`, id); err != nil {
		return fmt.Errorf("payments: delete payment items: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("payments: delete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payments: commit delete tx: %w", err)
	}
	return nil
}

// DiscountMultiplier resolves the price multiplier a health insurance plan
// grants, e.g. a 20 percent discount yields 0.8. Unknown plans pay full
// price.
func (r *Repository) DiscountMultiplier(ctx context.Context, insuranceID uuid.UUID) (float64, error) {
	if insuranceID == uuid.Nil {
		return 1, nil
	}
	var percent float64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(discount_percent, 0) FROM health_insurances WHERE id = $1
	`, insuranceID).Scan(&percent)
	if errors.Is(err, pgx.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("payments: resolve insurance discount: %w", err)
	}
	if percent < 0 || percent > 100 {
		return 1, nil
	}
	return 1 - percent/100, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	payment, err := scanPaymentRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return payment, err
}

func scanPaymentRow(row pgx.Row) (*Payment, error) {
	var payment Payment
	err := row.Scan(
		&payment.ID, &payment.UserID, &payment.TurnID, &payment.Status, &payment.Method,
		&payment.AmountCents, &payment.Currency, &payment.GatewaySessionID, &payment.CheckoutURL,
		&payment.Metadata, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("payments: scan payment: %w", err)
	}
	return &payment, nil
}

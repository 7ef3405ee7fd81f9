package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/turnero/hospital-core/internal/audit"
	"github.com/turnero/hospital-core/internal/payments"
	"github.com/turnero/hospital-core/pkg/logging"
)

// paymentLifecycle is the slice of payments.Service the handler needs.
type paymentLifecycle interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*payments.Payment, error)
	ListPayments(ctx context.Context, userID uuid.UUID) ([]payments.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, patch payments.StatusPatch) (*payments.Payment, error)
	DeletePayment(ctx context.Context, id uuid.UUID) error
}

// PaymentsHandler serves payment reads and guarded status changes.
type PaymentsHandler struct {
	service paymentLifecycle
	emitter auditEmitter
	logger  *logging.Logger
}

// NewPaymentsHandler wires the payments endpoints. emitter may be nil.
func NewPaymentsHandler(service paymentLifecycle, emitter auditEmitter, logger *logging.Logger) *PaymentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentsHandler{service: service, emitter: emitter, logger: logger}
}

// Get handles GET /payments/{paymentID}.
func (h *PaymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := uuidParam(r, "paymentID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid payment id")
		return
	}
	payment, err := h.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.respondPaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// ListByUser handles GET /users/{userID}/payments.
func (h *PaymentsHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	list, err := h.service.ListPayments(r.Context(), userID)
	if err != nil {
		h.respondPaymentError(w, err)
		return
	}
	if list == nil {
		list = []payments.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": list})
}

type statusChangeRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PATCH /payments/{paymentID}/status. Illegal
// transitions come back as 409 so clients can distinguish them from
// validation errors.
func (h *PaymentsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := uuidParam(r, "paymentID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid payment id")
		return
	}
	var body statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	next := payments.Status(body.Status)
	if !next.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+body.Status)
		return
	}

	payment, err := h.service.UpdateStatus(r.Context(), paymentID, payments.StatusPatch{Status: next})
	if err != nil {
		h.respondPaymentError(w, err)
		return
	}

	if h.emitter != nil {
		h.emitter.EmitRecord(r.Context(), audit.Record{
			Action:     string(audit.ActionRecordUpdated),
			TargetType: string(audit.TargetPayment),
			TargetID:   payment.ID,
			ActorID:    payment.UserID,
			Details: map[string]any{
				"status":       string(payment.Status),
				"amount_cents": payment.AmountCents,
			},
		}, audit.EmitOptions{
			Severity:        "warning",
			RequestID:       audit.RequestID(r),
			RequestMetadata: audit.RequestMetadata(r),
		})
	}

	writeJSON(w, http.StatusOK, payment)
}

// Delete handles DELETE /payments/{paymentID}.
func (h *PaymentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := uuidParam(r, "paymentID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid payment id")
		return
	}
	if err := h.service.DeletePayment(r.Context(), paymentID); err != nil {
		h.respondPaymentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PaymentsHandler) respondPaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payments.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payments.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("payment operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/turnero/hospital-core/internal/audit"
	"github.com/turnero/hospital-core/internal/payments"
	"github.com/turnero/hospital-core/internal/scheduling"
	"github.com/turnero/hospital-core/pkg/logging"
)

// turnScheduler is the slice of scheduling.Repository the handler needs.
type turnScheduler interface {
	CreateTurnAndAppointment(ctx context.Context, req scheduling.CreateTurnRequest) (*scheduling.Turn, *scheduling.Appointment, error)
	RescheduleTurn(ctx context.Context, turn *scheduling.Turn, newDate time.Time, newTime string) (*scheduling.Turn, error)
	DeleteTurnAndAppointment(ctx context.Context, turn *scheduling.Turn) error
	GetTurn(ctx context.Context, id uuid.UUID) (*scheduling.Turn, error)
}

// paymentOpener opens the payment that accompanies a new turn.
type paymentOpener interface {
	CreatePaymentForTurn(ctx context.Context, turn *scheduling.Turn, params payments.CreatePaymentParams) (*payments.Payment, error)
}

// auditEmitter records domain mutations; the real implementation is
// audit.Emitter. A nil emitter disables emission.
type auditEmitter interface {
	EmitRecord(ctx context.Context, record audit.Record, opts audit.EmitOptions)
}

// TurnsHandler serves turn creation, rescheduling and deletion.
type TurnsHandler struct {
	scheduler turnScheduler
	payments  paymentOpener
	emitter   auditEmitter
	logger    *logging.Logger
}

// NewTurnsHandler wires the turns endpoints. payments and emitter may be nil.
func NewTurnsHandler(scheduler turnScheduler, payments paymentOpener, emitter auditEmitter, logger *logging.Logger) *TurnsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TurnsHandler{scheduler: scheduler, payments: payments, emitter: emitter, logger: logger}
}

type createTurnRequest struct {
	Reason            string   `json:"reason"`
	Date              string   `json:"date"`
	Time              string   `json:"time"`
	UserID            string   `json:"user_id"`
	ServiceIDs        []string `json:"service_ids"`
	HealthInsuranceID string   `json:"health_insurance_id"`
	PaymentMethod     string   `json:"payment_method"`
}

type turnResponse struct {
	Turn        *scheduling.Turn        `json:"turn"`
	Appointment *scheduling.Appointment `json:"appointment,omitempty"`
	Payment     *payments.Payment       `json:"payment,omitempty"`
}

// Create handles POST /turns.
func (h *TurnsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	date, ok := parseDate(body.Date)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	serviceIDs := make([]uuid.UUID, 0, len(body.ServiceIDs))
	for _, raw := range body.ServiceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid service id: "+raw)
			return
		}
		serviceIDs = append(serviceIDs, id)
	}
	var insuranceID uuid.UUID
	if body.HealthInsuranceID != "" {
		insuranceID, err = uuid.Parse(body.HealthInsuranceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid health_insurance_id")
			return
		}
	}
	method := payments.Method(body.PaymentMethod)
	if method != "" && !method.Valid() {
		writeError(w, http.StatusBadRequest, "invalid payment_method, expected stripe or cash")
		return
	}

	turn, appointment, err := h.scheduler.CreateTurnAndAppointment(r.Context(), scheduling.CreateTurnRequest{
		Reason:            body.Reason,
		Date:              date,
		Time:              body.Time,
		UserID:            userID,
		ServiceIDs:        serviceIDs,
		HealthInsuranceID: insuranceID,
	})
	if err != nil {
		h.respondSchedulingError(w, err)
		return
	}

	// The scheduling transaction has committed; record it before the payment
	// attempt, which can still fail.
	h.emit(r, audit.Record{
		Action:     string(audit.ActionRecordCreated),
		TargetType: string(audit.TargetTurn),
		TargetID:   turn.ID,
		ActorID:    userID,
		Details: map[string]any{
			"date":        turn.Date.Format(dateLayout),
			"time":        turn.Time,
			"doctor_id":   turn.DoctorID.String(),
			"schedule_id": turn.ScheduleID.String(),
		},
	}, "info")

	response := turnResponse{Turn: turn, Appointment: appointment}
	if h.payments != nil {
		payment, err := h.payments.CreatePaymentForTurn(r.Context(), turn, payments.CreatePaymentParams{
			Method:            method,
			HealthInsuranceID: insuranceID,
		})
		if err != nil {
			// The turn exists; surface it with the payment failure noted so
			// the client does not retry the whole creation.
			h.logger.Error("payment creation failed after turn allocation",
				"turn_id", turn.ID, "error", err)
			writeJSON(w, http.StatusCreated, response)
			return
		}
		response.Payment = payment
	}

	writeJSON(w, http.StatusCreated, response)
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Reschedule handles PATCH /turns/{turnID}/schedule.
func (h *TurnsHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	turnID, ok := uuidParam(r, "turnID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid turn id")
		return
	}
	var body rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	date, ok := parseDate(body.Date)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	turn, err := h.scheduler.GetTurn(r.Context(), turnID)
	if err != nil {
		h.respondSchedulingError(w, err)
		return
	}
	updated, err := h.scheduler.RescheduleTurn(r.Context(), turn, date, body.Time)
	if err != nil {
		h.respondSchedulingError(w, err)
		return
	}

	h.emit(r, audit.Record{
		Action:     string(audit.ActionRecordUpdated),
		TargetType: string(audit.TargetTurn),
		TargetID:   updated.ID,
		ActorID:    updated.UserID,
		Details: map[string]any{
			"date":             updated.Date.Format(dateLayout),
			"time":             updated.Time,
			"from_schedule_id": turn.ScheduleID.String(),
			"to_schedule_id":   updated.ScheduleID.String(),
		},
	}, "info")

	writeJSON(w, http.StatusOK, turnResponse{Turn: updated})
}

// Get handles GET /turns/{turnID}.
func (h *TurnsHandler) Get(w http.ResponseWriter, r *http.Request) {
	turnID, ok := uuidParam(r, "turnID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid turn id")
		return
	}
	turn, err := h.scheduler.GetTurn(r.Context(), turnID)
	if err != nil {
		h.respondSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{Turn: turn})
}

// Delete handles DELETE /turns/{turnID}.
func (h *TurnsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	turnID, ok := uuidParam(r, "turnID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid turn id")
		return
	}
	turn, err := h.scheduler.GetTurn(r.Context(), turnID)
	if err != nil {
		h.respondSchedulingError(w, err)
		return
	}
	if err := h.scheduler.DeleteTurnAndAppointment(r.Context(), turn); err != nil {
		h.respondSchedulingError(w, err)
		return
	}

	h.emit(r, audit.Record{
		Action:     string(audit.ActionRecordDeleted),
		TargetType: string(audit.TargetTurn),
		TargetID:   turn.ID,
		ActorID:    turn.UserID,
		Details: map[string]any{
			"schedule_id": turn.ScheduleID.String(),
			"date":        turn.Date.Format(dateLayout),
		},
	}, "warning")

	w.WriteHeader(http.StatusNoContent)
}

func (h *TurnsHandler) respondSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrTurnNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case scheduling.IsDomainFailure(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("scheduling operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *TurnsHandler) emit(r *http.Request, record audit.Record, severity string) {
	if h.emitter == nil {
		return
	}
	h.emitter.EmitRecord(r.Context(), record, audit.EmitOptions{
		Severity:        severity,
		RequestID:       audit.RequestID(r),
		RequestMetadata: audit.RequestMetadata(r),
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turnero/hospital-core/internal/audit"
	"github.com/turnero/hospital-core/internal/payments"
	"github.com/turnero/hospital-core/internal/scheduling"
)

type fakeScheduler struct {
	turn        *scheduling.Turn
	appointment *scheduling.Appointment
	createErr   error
	getErr      error
	reschedErr  error
	deleteErr   error
	creates     int
	deleted     []uuid.UUID
}

func (f *fakeScheduler) CreateTurnAndAppointment(_ context.Context, req scheduling.CreateTurnRequest) (*scheduling.Turn, *scheduling.Appointment, error) {
	f.creates++
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	return f.turn, f.appointment, nil
}

func (f *fakeScheduler) RescheduleTurn(_ context.Context, turn *scheduling.Turn, newDate time.Time, newTime string) (*scheduling.Turn, error) {
	if f.reschedErr != nil {
		return nil, f.reschedErr
	}
	updated := *turn
	updated.Date = newDate
	updated.Time = newTime
	return &updated, nil
}

func (f *fakeScheduler) DeleteTurnAndAppointment(_ context.Context, turn *scheduling.Turn) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, turn.ID)
	return nil
}

func (f *fakeScheduler) GetTurn(_ context.Context, id uuid.UUID) (*scheduling.Turn, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.turn, nil
}

type fakeOpener struct {
	payment *payments.Payment
	err     error
}

func (f *fakeOpener) CreatePaymentForTurn(context.Context, *scheduling.Turn, payments.CreatePaymentParams) (*payments.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

type captureEmitter struct {
	records    []audit.Record
	severities []string
}

func (c *captureEmitter) EmitRecord(_ context.Context, record audit.Record, opts audit.EmitOptions) {
	c.records = append(c.records, record)
	c.severities = append(c.severities, opts.Severity)
}

func newTurnsRouter(h *TurnsHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/turns", h.Create)
	r.Get("/turns/{turnID}", h.Get)
	r.Patch("/turns/{turnID}/schedule", h.Reschedule)
	r.Delete("/turns/{turnID}", h.Delete)
	return r
}

func sampleTurn() *scheduling.Turn {
	return &scheduling.Turn{
		ID:         uuid.New(),
		State:      scheduling.TurnWaiting,
		Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Time:       "10:00",
		UserID:     uuid.New(),
		DoctorID:   uuid.New(),
		ScheduleID: uuid.New(),
		Services:   []scheduling.Service{{ID: uuid.New(), Name: "Consultation", PriceCents: 4500}},
	}
}

func createBody(turn *scheduling.Turn) string {
	return `{
		"reason": "checkup",
		"date": "2026-03-02",
		"time": "10:00",
		"user_id": "` + turn.UserID.String() + `",
		"service_ids": ["` + turn.Services[0].ID.String() + `"]
	}`
}

func TestCreateTurnReturnsTurnAppointmentAndPayment(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{
		turn:        turn,
		appointment: &scheduling.Appointment{ID: uuid.New(), TurnID: turn.ID, UserID: turn.UserID},
	}
	opener := &fakeOpener{payment: &payments.Payment{ID: uuid.New(), TurnID: turn.ID, Status: payments.StatusPending, AmountCents: 4500}}
	emitter := &captureEmitter{}
	router := newTurnsRouter(NewTurnsHandler(scheduler, opener, emitter, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/turns", strings.NewReader(createBody(turn))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp turnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Turn == nil || resp.Turn.ID != turn.ID {
		t.Fatalf("missing turn in response: %s", rec.Body.String())
	}
	if resp.Appointment == nil || resp.Payment == nil {
		t.Fatalf("expected appointment and payment: %s", rec.Body.String())
	}

	if len(emitter.records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(emitter.records))
	}
	if emitter.records[0].Action != string(audit.ActionRecordCreated) || emitter.records[0].TargetID != turn.ID {
		t.Fatalf("unexpected audit record: %#v", emitter.records[0])
	}
}

func TestCreateTurnDomainFailureIs400WithReason(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{createErr: scheduling.ErrNoAvailableSlots}
	router := newTurnsRouter(NewTurnsHandler(scheduler, nil, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/turns", strings.NewReader(createBody(turn))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "no available slots in the schedule" {
		t.Fatalf("expected domain reason in body, got %q", resp["error"])
	}
}

func TestCreateTurnIntegrityFailureIs500WithoutDetails(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{createErr: scheduling.ErrIntegrity}
	router := newTurnsRouter(NewTurnsHandler(scheduler, nil, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/turns", strings.NewReader(createBody(turn))))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "integrity") {
		t.Fatalf("internal details must not leak: %s", rec.Body.String())
	}
}

func TestCreateTurnPaymentFailureStillReturnsTurn(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{turn: turn, appointment: &scheduling.Appointment{ID: uuid.New(), TurnID: turn.ID}}
	opener := &fakeOpener{err: errors.New("gateway exploded")}
	emitter := &captureEmitter{}
	router := newTurnsRouter(NewTurnsHandler(scheduler, opener, emitter, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/turns", strings.NewReader(createBody(turn))))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 despite payment failure, got %d", rec.Code)
	}
	var resp turnResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Turn == nil || resp.Payment != nil {
		t.Fatalf("expected turn without payment: %s", rec.Body.String())
	}
	// The turn was committed, so the mutation must be audited even though
	// the payment attempt failed.
	if len(emitter.records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(emitter.records))
	}
	if emitter.records[0].Action != string(audit.ActionRecordCreated) || emitter.records[0].TargetID != turn.ID {
		t.Fatalf("unexpected audit record: %#v", emitter.records[0])
	}
}

func TestCreateTurnRejectsUnknownPaymentMethod(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{turn: turn}
	body := `{
		"date": "2026-03-02",
		"time": "10:00",
		"user_id": "` + turn.UserID.String() + `",
		"service_ids": ["` + turn.Services[0].ID.String() + `"],
		"payment_method": "foo"
	}`
	router := newTurnsRouter(NewTurnsHandler(scheduler, &fakeOpener{}, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/turns", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown payment method, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid payment_method") {
		t.Fatalf("expected payment_method reason in body: %s", rec.Body.String())
	}
	if scheduler.creates != 0 {
		t.Fatalf("scheduler must not run for an invalid method, got %d calls", scheduler.creates)
	}
}

func TestRescheduleTurn(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{turn: turn}
	emitter := &captureEmitter{}
	router := newTurnsRouter(NewTurnsHandler(scheduler, nil, emitter, nil))

	body := `{"date": "2026-03-03", "time": "14:00"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/turns/"+turn.ID.String()+"/schedule", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp turnResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Turn.Time != "14:00" {
		t.Fatalf("expected new time, got %q", resp.Turn.Time)
	}
	if len(emitter.records) != 1 || emitter.records[0].Action != string(audit.ActionRecordUpdated) {
		t.Fatalf("expected update audit record, got %#v", emitter.records)
	}
}

func TestRescheduleNoMatchingScheduleIs400(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{turn: turn, reschedErr: scheduling.ErrNoMatchingSchedule}
	router := newTurnsRouter(NewTurnsHandler(scheduler, nil, nil, nil))

	body := `{"date": "2026-03-03", "time": "14:00"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/turns/"+turn.ID.String()+"/schedule", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no matching schedule found for the selected date") {
		t.Fatalf("expected reason in body: %s", rec.Body.String())
	}
}

func TestDeleteTurnEmitsWarningAudit(t *testing.T) {
	turn := sampleTurn()
	scheduler := &fakeScheduler{turn: turn}
	emitter := &captureEmitter{}
	router := newTurnsRouter(NewTurnsHandler(scheduler, nil, emitter, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/turns/"+turn.ID.String(), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(scheduler.deleted) != 1 || scheduler.deleted[0] != turn.ID {
		t.Fatalf("turn not deleted: %v", scheduler.deleted)
	}
	if len(emitter.severities) != 1 || emitter.severities[0] != "warning" {
		t.Fatalf("expected warning severity, got %v", emitter.severities)
	}
}

func TestGetTurnNotFoundIs404(t *testing.T) {
	scheduler := &fakeScheduler{getErr: scheduling.ErrTurnNotFound}
	router := newTurnsRouter(NewTurnsHandler(scheduler, nil, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/turns/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

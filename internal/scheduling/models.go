// Package scheduling allocates patient turns to doctor schedules under
// capacity constraints. All mutations run inside a single transaction with
// the affected schedule row locked, so the capacity invariant holds under
// concurrent requests.
package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TurnState tracks a turn through its lifecycle. Finished, cancelled and
// rejected are terminal unless a privileged override rewrites them.
type TurnState string

const (
	TurnWaiting   TurnState = "waiting"
	TurnAccepted  TurnState = "accepted"
	TurnFinished  TurnState = "finished"
	TurnCancelled TurnState = "cancelled"
	TurnRejected  TurnState = "rejected"
)

// Terminal reports whether the state admits no further transitions.
func (s TurnState) Terminal() bool {
	switch s {
	case TurnFinished, TurnCancelled, TurnRejected:
		return true
	}
	return false
}

// Turn is a scheduled patient visit. It belongs to exactly one schedule at a
// time; membership moves on reschedule.
type Turn struct {
	ID          uuid.UUID `json:"id"`
	Reason      string    `json:"reason,omitempty"`
	State       TurnState `json:"state"`
	Date        time.Time `json:"date"`
	Time        string    `json:"time"`
	DateCreated time.Time `json:"date_created"`
	DateLimit   time.Time `json:"date_limit"`
	UserID      uuid.UUID `json:"user_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	ScheduleID  uuid.UUID `json:"schedule_id"`
	Services    []Service `json:"services,omitempty"`
}

// PriceTotalCents sums the turn's service prices.
func (t *Turn) PriceTotalCents() int64 {
	var total int64
	for _, service := range t.Services {
		total += service.PriceCents
	}
	return total
}

// Appointment is the administrative record paired 1:1 with a turn. It is
// created and deleted atomically alongside it.
type Appointment struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	TurnID   uuid.UUID `json:"turn_id"`
}

// Schedule is a doctor's recurring weekly availability window.
// MaxPatients == 0 means unbounded capacity.
type Schedule struct {
	ID          uuid.UUID `json:"id"`
	DayOfWeek   string    `json:"day_of_week"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	MaxPatients int32     `json:"max_patients"`
	Available   bool      `json:"available"`
}

// Service is the catalog entry snapshot used to price a turn.
type Service struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	PriceCents   int64     `json:"price_cents"`
	SpecialityID uuid.UUID `json:"speciality_id"`
}

// Doctor carries the fields the assignment policy needs. DayLoad is the
// number of turns already assigned to the doctor on the requested date.
type Doctor struct {
	ID      uuid.UUID
	Name    string
	DayLoad int64
}

// CreateTurnRequest is the input produced by the HTTP layer after its own
// authorization checks.
type CreateTurnRequest struct {
	Reason            string      `json:"reason,omitempty"`
	Date              time.Time   `json:"date"`
	Time              string      `json:"time"`
	UserID            uuid.UUID   `json:"user_id"`
	ServiceIDs        []uuid.UUID `json:"service_ids"`
	HealthInsuranceID uuid.UUID   `json:"health_insurance_id,omitempty"`
}

// weekdayOf returns the lowercase weekday literal schedules are keyed by.
func weekdayOf(date time.Time) string {
	return strings.ToLower(date.Weekday().String())
}

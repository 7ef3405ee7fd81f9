package scheduling

import "errors"

var (
	// ErrServiceNotFound is returned when a requested service id does not
	// exist; the wrapped message names the missing id.
	ErrServiceNotFound = errors.New("service not found")

	// ErrNoDoctorsForSpeciality is returned when the derived speciality has
	// no doctors to assign.
	ErrNoDoctorsForSpeciality = errors.New("no doctors available for the selected speciality")

	// ErrNoMatchingSchedule is returned when the assigned doctor has no
	// schedule for the requested date's weekday.
	ErrNoMatchingSchedule = errors.New("no matching schedule found for the selected date")

	// ErrNoAvailableSlots is returned when the matched schedule is at
	// capacity.
	ErrNoAvailableSlots = errors.New("no available slots in the schedule")

	// ErrTurnNotFound is returned when a turn id does not resolve.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrIntegrity wraps database constraint violations. Callers treat it as
	// a generic failure; it is not retried here.
	ErrIntegrity = errors.New("database integrity error")
)

// IsDomainFailure reports whether err is an expected business-rule failure
// (mapped to 4xx by the HTTP layer) as opposed to an integrity or unexpected
// error.
func IsDomainFailure(err error) bool {
	return errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrNoDoctorsForSpeciality) ||
		errors.Is(err, ErrNoMatchingSchedule) ||
		errors.Is(err, ErrNoAvailableSlots) ||
		errors.Is(err, ErrTurnNotFound)
}

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/turnero/hospital-core/internal/observability/metrics"
	"github.com/turnero/hospital-core/pkg/logging"
)

var schedulingTracer = otel.Tracer("hospital.internal.scheduling")

// DB is the slice of pgxpool.Pool the repository needs; pgxmock satisfies it
// in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository performs atomic, capacity-aware allocation of turn/appointment
// pairs to doctor schedules.
type Repository struct {
	db      DB
	policy  DoctorPolicy
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool, policy DoctorPolicy, logger *logging.Logger, m *metrics.SchedulingMetrics) *Repository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return NewRepositoryWithDB(pool, policy, logger, m)
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db DB, policy DoctorPolicy, logger *logging.Logger, m *metrics.SchedulingMetrics) *Repository {
	if policy == nil {
		policy = RandomPolicy{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, policy: policy, logger: logger, metrics: m}
}

// CreateTurnAndAppointment allocates a turn and its paired appointment inside
// one transaction. The matched schedule row is locked before the capacity
// check so concurrent requests cannot both pass it. Domain failures come back
// as sentinel errors; see errors.go.
func (r *Repository) CreateTurnAndAppointment(ctx context.Context, req CreateTurnRequest) (*Turn, *Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.create_turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("hospital.user_id", req.UserID.String()),
		attribute.Int("hospital.service_count", len(req.ServiceIDs)),
	)

	turn, appointment, err := r.createTurnAndAppointment(ctx, req)
	r.observe("create", err)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	r.logger.Info("turn allocated",
		"turn_id", turn.ID, "doctor_id", turn.DoctorID, "schedule_id", turn.ScheduleID)
	return turn, appointment, nil
}

func (r *Repository) createTurnAndAppointment(ctx context.Context, req CreateTurnRequest) (*Turn, *Appointment, error) {
	if len(req.ServiceIDs) == 0 {
		return nil, nil, fmt.Errorf("%w: no services requested", ErrServiceNotFound)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduling: begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	services, err := r.resolveServices(ctx, tx, req.ServiceIDs)
	if err != nil {
		return nil, nil, err
	}

	// The speciality derives from the first requested service.
	doctors, err := r.doctorsForSpeciality(ctx, tx, services[0].SpecialityID, req.Date)
	if err != nil {
		return nil, nil, err
	}
	doctor, err := r.policy.Pick(ctx, doctors, req.Date)
	if err != nil {
		return nil, nil, err
	}

	schedule, err := r.lockScheduleForDoctor(ctx, tx, doctor.ID, weekdayOf(req.Date))
	if err != nil {
		return nil, nil, err
	}

	occupied, err := r.countTurns(ctx, tx, schedule.ID, uuid.Nil)
	if err != nil {
		return nil, nil, err
	}
	if schedule.MaxPatients > 0 && occupied >= int64(schedule.MaxPatients) {
		return nil, nil, ErrNoAvailableSlots
	}

	now := time.Now().UTC()
	turn := &Turn{
		ID:          uuid.New(),
		Reason:      req.Reason,
		State:       TurnWaiting,
		Date:        req.Date,
		Time:        req.Time,
		DateCreated: now,
		DateLimit:   req.Date.AddDate(0, 0, 1),
		UserID:      req.UserID,
		DoctorID:    doctor.ID,
		ScheduleID:  schedule.ID,
		Services:    services,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO turns (id, reason, state, turn_date, turn_time, date_created, date_limit, user_id, doctor_id, schedule_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, turn.ID, turn.Reason, turn.State, turn.Date, turn.Time, turn.DateCreated, turn.DateLimit, turn.UserID, turn.DoctorID, turn.ScheduleID); err != nil {
		return nil, nil, mapError(err, "insert turn")
	}
	for _, service := range services {
		if _, err := tx.Exec(ctx, `
			INSERT INTO turn_services (turn_id, service_id) VALUES ($1, $2)
		`, turn.ID, service.ID); err != nil {
			return nil, nil, mapError(err, "insert turn service")
		}
	}

	appointment := &Appointment{
		ID:       uuid.New(),
		UserID:   req.UserID,
		DoctorID: doctor.ID,
		TurnID:   turn.ID,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, user_id, doctor_id, turn_id) VALUES ($1, $2, $3, $4)
	`, appointment.ID, appointment.UserID, appointment.DoctorID, appointment.TurnID); err != nil {
		return nil, nil, mapError(err, "insert appointment")
	}

	available := schedule.MaxPatients == 0 || occupied+1 < int64(schedule.MaxPatients)
	if err := r.setAvailability(ctx, tx, schedule.ID, available); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, mapError(err, "commit create tx")
	}
	return turn, appointment, nil
}

// RescheduleTurn moves a turn to the schedule matching the new date's
// weekday, re-running the capacity check against the target. On any failure
// the transaction rolls back and the turn keeps its original schedule.
func (r *Repository) RescheduleTurn(ctx context.Context, turn *Turn, newDate time.Time, newTime string) (*Turn, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.reschedule_turn")
	defer span.End()
	span.SetAttributes(attribute.String("hospital.turn_id", turn.ID.String()))

	updated, err := r.rescheduleTurn(ctx, turn, newDate, newTime)
	r.observe("reschedule", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.logger.Info("turn rescheduled",
		"turn_id", updated.ID, "schedule_id", updated.ScheduleID, "date", updated.Date.Format("2006-01-02"))
	return updated, nil
}

func (r *Repository) rescheduleTurn(ctx context.Context, turn *Turn, newDate time.Time, newTime string) (*Turn, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin reschedule tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var targetID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT s.id
		FROM schedules s
		JOIN doctor_schedules ds ON ds.schedule_id = s.id
		WHERE ds.doctor_id = $1 AND s.day_of_week = $2
	`, turn.DoctorID, weekdayOf(newDate)).Scan(&targetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoMatchingSchedule
	}
	if err != nil {
		return nil, mapError(err, "resolve target schedule")
	}

	// Lock both schedule rows in id order to keep concurrent opposite
	// reschedules from deadlocking.
	ids := []uuid.UUID{turn.ScheduleID}
	if targetID != turn.ScheduleID {
		ids = append(ids, targetID)
		if ids[1].String() < ids[0].String() {
			ids[0], ids[1] = ids[1], ids[0]
		}
	}
	locked, err := r.lockSchedules(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	target, ok := locked[targetID]
	if !ok {
		return nil, ErrNoMatchingSchedule
	}

	occupied, err := r.countTurns(ctx, tx, targetID, turn.ID)
	if err != nil {
		return nil, err
	}
	if target.MaxPatients > 0 && occupied >= int64(target.MaxPatients) {
		return nil, ErrNoAvailableSlots
	}

	dateLimit := newDate.AddDate(0, 0, 1)
	if _, err := tx.Exec(ctx, `
		UPDATE turns SET schedule_id = $2, turn_date = $3, turn_time = $4, date_limit = $5 WHERE id = $1
	`, turn.ID, targetID, newDate, newTime, dateLimit); err != nil {
		return nil, mapError(err, "move turn")
	}

	if targetID != turn.ScheduleID {
		// Membership shrank on the old schedule, so it is available again.
		if err := r.setAvailability(ctx, tx, turn.ScheduleID, true); err != nil {
			return nil, err
		}
	}
	available := target.MaxPatients == 0 || occupied+1 < int64(target.MaxPatients)
	if err := r.setAvailability(ctx, tx, targetID, available); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError(err, "commit reschedule tx")
	}

	updated := *turn
	updated.ScheduleID = targetID
	updated.Date = newDate
	updated.Time = newTime
	updated.DateLimit = dateLimit
	return &updated, nil
}

// DeleteTurnAndAppointment removes the turn and its paired appointment in one
// transaction and restores the owning schedule's availability.
func (r *Repository) DeleteTurnAndAppointment(ctx context.Context, turn *Turn) error {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.delete_turn")
	defer span.End()
	span.SetAttributes(attribute.String("hospital.turn_id", turn.ID.String()))

	err := r.deleteTurnAndAppointment(ctx, turn)
	r.observe("delete", err)
	if err != nil {
		span.RecordError(err)
		return err
	}
	r.logger.Info("turn deleted", "turn_id", turn.ID, "schedule_id", turn.ScheduleID)
	return nil
}

func (r *Repository) deleteTurnAndAppointment(ctx context.Context, turn *Turn) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduling: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locked, err := r.lockSchedules(ctx, tx, []uuid.UUID{turn.ScheduleID})
	if err != nil {
		return err
	}
	schedule, ok := locked[turn.ScheduleID]
	if !ok {
		return ErrTurnNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM appointments WHERE turn_id = $1`, turn.ID); err != nil {
		return mapError(err, "delete appointment")
	}
	ct, err := tx.Exec(ctx, `DELETE FROM turns WHERE id = $1`, turn.ID)
	if err != nil {
		return mapError(err, "delete turn")
	}
	if ct.RowsAffected() == 0 {
		return ErrTurnNotFound
	}

	occupied, err := r.countTurns(ctx, tx, turn.ScheduleID, uuid.Nil)
	if err != nil {
		return err
	}
	available := schedule.MaxPatients == 0 || occupied < int64(schedule.MaxPatients)
	if err := r.setAvailability(ctx, tx, turn.ScheduleID, available); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit delete tx")
	}
	return nil
}

// GetTurn loads a turn with its service snapshots.
func (r *Repository) GetTurn(ctx context.Context, id uuid.UUID) (*Turn, error) {
	var turn Turn
	err := r.db.QueryRow(ctx, `
		SELECT id, reason, state, turn_date, turn_time, date_created, date_limit, user_id, doctor_id, schedule_id
		FROM turns
		WHERE id = $1
	`, id).Scan(
		&turn.ID, &turn.Reason, &turn.State, &turn.Date, &turn.Time,
		&turn.DateCreated, &turn.DateLimit, &turn.UserID, &turn.DoctorID, &turn.ScheduleID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTurnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: load turn: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.name, s.description, s.price_cents, s.speciality_id
		FROM services s
		JOIN turn_services ts ON ts.service_id = s.id
		WHERE ts.turn_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("scheduling: load turn services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var service Service
		if err := rows.Scan(&service.ID, &service.Name, &service.Description, &service.PriceCents, &service.SpecialityID); err != nil {
			return nil, fmt.Errorf("scheduling: scan turn service: %w", err)
		}
		turn.Services = append(turn.Services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: iterate turn services: %w", err)
	}
	return &turn, nil
}

func (r *Repository) resolveServices(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]Service, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, description, price_cents, speciality_id
		FROM services
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, mapError(err, "resolve services")
	}
	defer rows.Close()

	found := make(map[uuid.UUID]Service, len(ids))
	for rows.Next() {
		var service Service
		if err := rows.Scan(&service.ID, &service.Name, &service.Description, &service.PriceCents, &service.SpecialityID); err != nil {
			return nil, mapError(err, "scan service")
		}
		found[service.ID] = service
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate services")
	}

	services := make([]Service, 0, len(ids))
	for _, id := range ids {
		service, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
		}
		services = append(services, service)
	}
	return services, nil
}

func (r *Repository) doctorsForSpeciality(ctx context.Context, tx pgx.Tx, specialityID uuid.UUID, date time.Time) ([]Doctor, error) {
	rows, err := tx.Query(ctx, `
		SELECT d.id, d.name, COUNT(t.id)
		FROM doctors d
		LEFT JOIN turns t ON t.doctor_id = d.id AND t.turn_date = $2
		WHERE d.speciality_id = $1
		GROUP BY d.id, d.name
		ORDER BY d.name
	`, specialityID, date)
	if err != nil {
		return nil, mapError(err, "load doctors")
	}
	defer rows.Close()

	var doctors []Doctor
	for rows.Next() {
		var doctor Doctor
		if err := rows.Scan(&doctor.ID, &doctor.Name, &doctor.DayLoad); err != nil {
			return nil, mapError(err, "scan doctor")
		}
		doctors = append(doctors, doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate doctors")
	}
	if len(doctors) == 0 {
		return nil, ErrNoDoctorsForSpeciality
	}
	return doctors, nil
}

func (r *Repository) lockScheduleForDoctor(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, weekday string) (*Schedule, error) {
	var schedule Schedule
	err := tx.QueryRow(ctx, `
		SELECT s.id, s.day_of_week, s.start_time, s.end_time, COALESCE(s.max_patients, 0), s.available
		FROM schedules s
		JOIN doctor_schedules ds ON ds.schedule_id = s.id
		WHERE ds.doctor_id = $1 AND s.day_of_week = $2
		FOR UPDATE OF s
	`, doctorID, weekday).Scan(
		&schedule.ID, &schedule.DayOfWeek, &schedule.StartTime, &schedule.EndTime,
		&schedule.MaxPatients, &schedule.Available,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoMatchingSchedule
	}
	if err != nil {
		return nil, mapError(err, "lock schedule")
	}
	return &schedule, nil
}

func (r *Repository) lockSchedules(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]Schedule, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, day_of_week, start_time, end_time, COALESCE(max_patients, 0), available
		FROM schedules
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, mapError(err, "lock schedules")
	}
	defer rows.Close()

	locked := make(map[uuid.UUID]Schedule, len(ids))
	for rows.Next() {
		var schedule Schedule
		if err := rows.Scan(&schedule.ID, &schedule.DayOfWeek, &schedule.StartTime, &schedule.EndTime, &schedule.MaxPatients, &schedule.Available); err != nil {
			return nil, mapError(err, "scan locked schedule")
		}
		locked[schedule.ID] = schedule
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate locked schedules")
	}
	return locked, nil
}

func (r *Repository) countTurns(ctx context.Context, tx pgx.Tx, scheduleID uuid.UUID, excludeTurn uuid.UUID) (int64, error) {
	var occupied int64
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM turns WHERE schedule_id = $1 AND id <> $2
	`, scheduleID, excludeTurn).Scan(&occupied)
	if err != nil {
		return 0, mapError(err, "count schedule turns")
	}
	return occupied, nil
}

func (r *Repository) setAvailability(ctx context.Context, tx pgx.Tx, scheduleID uuid.UUID, available bool) error {
	if _, err := tx.Exec(ctx, `
		UPDATE schedules SET available = $2 WHERE id = $1
	`, scheduleID, available); err != nil {
		return mapError(err, "update schedule availability")
	}
	return nil
}

func (r *Repository) observe(operation string, err error) {
	switch {
	case err == nil:
		r.metrics.ObserveMutation(operation, "ok")
	case IsDomainFailure(err):
		r.metrics.ObserveMutation(operation, "domain_failure")
	default:
		r.metrics.ObserveMutation(operation, "error")
	}
}

// mapError classifies constraint violations (SQLSTATE class 23) as
// ErrIntegrity so callers can branch without inspecting driver errors.
func mapError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%w: %s", ErrIntegrity, pgErr.Message)
	}
	return fmt.Errorf("scheduling: %s: %w", op, err)
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository stores and queries immutable audit events in the relational store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository backed by database/sql.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("audit: sql db required")
	}
	return &Repository{db: db}
}

// SaveBatch persists a batch of events in a single transaction. Events are
// expected to carry recorded_at already; the service stamps them before
// handing batches over.
func (r *Repository) SaveBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO audit_events (
			id, occurred_at, recorded_at, action, severity, target_type,
			target_id, actor_id, request_id, details, request_metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, event := range events {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		details, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
		metadata, err := json.Marshal(event.RequestMetadata)
		if err != nil {
			return fmt.Errorf("audit: marshal request metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			event.ID,
			event.OccurredAt,
			event.RecordedAt,
			event.Action,
			event.Severity,
			event.TargetType,
			nullUUID(event.TargetID),
			nullUUID(event.ActorID),
			nullString(event.RequestID),
			details,
			metadata,
		); err != nil {
			return fmt.Errorf("audit: insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit batch: %w", err)
	}
	return nil
}

// List retrieves audit events applying the optional filters, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, occurred_at, recorded_at, action, severity, target_type,
			   target_id, actor_id, request_id, details, request_metadata
		FROM audit_events
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.ActorID != uuid.Nil {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.TargetType != "" {
		query += fmt.Sprintf(" AND target_type = $%d", argIdx)
		args = append(args, filter.TargetType)
		argIdx++
	}
	if !filter.OccurredAfter.IsZero() {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, filter.OccurredAfter)
		argIdx++
	}
	if !filter.OccurredBefore.IsZero() {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argIdx)
		args = append(args, filter.OccurredBefore)
		argIdx++
	}

	query += " ORDER BY occurred_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var targetID, actorID sql.Null[uuid.UUID]
		var requestID sql.NullString
		var details, metadata []byte
		if err := rows.Scan(
			&e.ID, &e.OccurredAt, &e.RecordedAt, &e.Action, &e.Severity,
			&e.TargetType, &targetID, &actorID, &requestID, &details, &metadata,
		); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		if targetID.Valid {
			e.TargetID = targetID.V
		}
		if actorID.Valid {
			e.ActorID = actorID.V
		}
		e.RequestID = requestID.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.RequestMetadata); err != nil {
				return nil, fmt.Errorf("audit: decode request metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeOlderThan deletes events recorded before the cutoff and returns the
// number of rows removed. Retention is the only sanctioned mutation of the
// audit table.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge events: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: purge rows affected: %w", err)
	}
	return purged, nil
}

func nullUUID(id uuid.UUID) sql.Null[uuid.UUID] {
	if id == uuid.Nil {
		return sql.Null[uuid.UUID]{}
	}
	return sql.Null[uuid.UUID]{V: id, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

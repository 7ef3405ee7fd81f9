package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable audit record. OccurredAt is the domain event time;
// RecordedAt is stamped immediately before persistence and is never earlier
// than OccurredAt.
type Event struct {
	ID              uuid.UUID      `json:"id"`
	OccurredAt      time.Time      `json:"occurred_at"`
	RecordedAt      time.Time      `json:"recorded_at,omitzero"`
	Action          Action         `json:"action"`
	Severity        Severity       `json:"severity"`
	TargetType      TargetType     `json:"target_type"`
	TargetID        uuid.UUID      `json:"target_id,omitempty"`
	ActorID         uuid.UUID      `json:"actor_id,omitempty"`
	RequestID       string         `json:"request_id,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	RequestMetadata map[string]any `json:"request_metadata,omitempty"`
}

// Record is the domain-side trigger an emitter receives before the event is
// normalized against the taxonomy.
type Record struct {
	Action     string
	TargetType string
	TargetID   uuid.UUID
	ActorID    uuid.UUID
	Details    map[string]any
	Timestamp  time.Time
}

// Filter narrows audit event queries. Zero values mean "no constraint".
type Filter struct {
	ActorID        uuid.UUID
	Action         Action
	TargetType     TargetType
	OccurredAfter  time.Time
	OccurredBefore time.Time
	Limit          int
}

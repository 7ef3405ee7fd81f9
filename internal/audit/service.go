package audit

import (
	"context"
	"strings"
	"time"

	"github.com/turnero/hospital-core/pkg/logging"
)

const redactedPlaceholder = "***redacted***"

// Service converts domain records into persistable events and owns the
// recorded_at stamping rule.
type Service struct {
	repo          *Repository
	retentionDays int
	redacted      map[string]struct{}
	logger        *logging.Logger
}

// NewService constructs an audit service. retentionDays <= 0 disables the
// retention purge; redactFields names payload keys whose values are masked
// before persistence.
func NewService(repo *Repository, retentionDays int, redactFields []string, logger *logging.Logger) *Service {
	if repo == nil {
		panic("audit: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	redacted := make(map[string]struct{}, len(redactFields))
	for _, field := range redactFields {
		redacted[strings.ToLower(field)] = struct{}{}
	}
	return &Service{
		repo:          repo,
		retentionDays: retentionDays,
		redacted:      redacted,
		logger:        logger,
	}
}

// BuildEvent converts a domain record into a persistence payload, coercing
// free-form literals onto the taxonomy and masking redacted fields.
func (s *Service) BuildEvent(record Record, severity Severity, requestID string, requestMetadata map[string]any) Event {
	occurredAt := record.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	if severity == "" {
		severity = SeverityInfo
	}
	return Event{
		OccurredAt:      occurredAt,
		Action:          ParseAction(record.Action),
		Severity:        severity,
		TargetType:      ParseTargetType(record.TargetType),
		TargetID:        record.TargetID,
		ActorID:         record.ActorID,
		RequestID:       requestID,
		Details:         s.redactPayload(record.Details),
		RequestMetadata: s.redactPayload(requestMetadata),
	}
}

// EnsureRecordedAt returns the event with a recorded_at stamp, leaving an
// existing stamp untouched.
func (s *Service) EnsureRecordedAt(event Event) Event {
	if !event.RecordedAt.IsZero() {
		return event
	}
	event.RecordedAt = time.Now().UTC()
	return event
}

// Persist stamps and stores a batch of events, then applies the retention
// policy. A purge failure does not fail the batch.
func (s *Service) Persist(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := make([]Event, len(events))
	for i, event := range events {
		batch[i] = s.EnsureRecordedAt(event)
	}
	if err := s.repo.SaveBatch(ctx, batch); err != nil {
		return err
	}
	if s.retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
		if _, err := s.repo.PurgeOlderThan(ctx, cutoff); err != nil {
			s.logger.Warn("audit retention purge failed", "error", err)
		}
	}
	return nil
}

// List exposes repository queries to the admin surface.
func (s *Service) List(ctx context.Context, filter Filter) ([]Event, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) redactPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	if len(s.redacted) == 0 {
		return payload
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = s.redactValue(key, value)
	}
	return out
}

func (s *Service) redactValue(key string, value any) any {
	if _, ok := s.redacted[strings.ToLower(key)]; ok {
		return redactedPlaceholder
	}
	switch v := value.(type) {
	case map[string]any:
		return s.redactPayload(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if nested, ok := item.(map[string]any); ok {
				out[i] = s.redactPayload(nested)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return value
	}
}

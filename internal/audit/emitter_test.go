package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type captureQueue struct {
	events []Event
}

func (q *captureQueue) Enqueue(_ context.Context, event Event) {
	q.events = append(q.events, event)
}

func newTestService(t *testing.T, redact ...string) *Service {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(NewRepository(db), 0, redact, nil)
}

func TestEmitterSeverityGate(t *testing.T) {
	service := newTestService(t)
	queue := &captureQueue{}
	emitter := NewEmitter(service, queue, true, "warning")

	emitter.EmitRecord(context.Background(), Record{Action: "create", TargetType: "Turn"}, EmitOptions{Severity: "info"})
	if len(queue.events) != 0 {
		t.Fatalf("info event passed a warning threshold")
	}

	emitter.EmitRecord(context.Background(), Record{Action: "create", TargetType: "Turn"}, EmitOptions{Severity: "critical"})
	if len(queue.events) != 1 {
		t.Fatalf("critical event filtered out, queue=%d", len(queue.events))
	}
}

func TestEmitterUnknownSeverityBecomesInfo(t *testing.T) {
	service := newTestService(t)
	queue := &captureQueue{}
	emitter := NewEmitter(service, queue, true, "info")

	emitter.EmitRecord(context.Background(), Record{Action: "create", TargetType: "Turn"}, EmitOptions{Severity: "catastrophic"})

	require.Len(t, queue.events, 1)
	require.Equal(t, SeverityInfo, queue.events[0].Severity)
}

func TestEmitterDisabledIsNoop(t *testing.T) {
	service := newTestService(t)
	queue := &captureQueue{}
	emitter := NewEmitter(service, queue, false, "info")

	emitter.EmitRecord(context.Background(), Record{Action: "create", TargetType: "Turn"}, EmitOptions{Severity: "critical"})
	emitter.EmitEvent(context.Background(), Event{Action: ActionRecordCreated, Severity: SeverityCritical, TargetType: TargetTurn})

	if len(queue.events) != 0 {
		t.Fatalf("disabled emitter forwarded %d events", len(queue.events))
	}
}

func TestEmitRecordNormalizesTaxonomy(t *testing.T) {
	service := newTestService(t)
	queue := &captureQueue{}
	emitter := NewEmitter(service, queue, true, "info")

	actor := uuid.New()
	emitter.EmitRecord(context.Background(), Record{
		Action:     "something_nobody_declared",
		TargetType: "Turns",
		ActorID:    actor,
	}, EmitOptions{RequestID: "req-42"})

	require.Len(t, queue.events, 1)
	event := queue.events[0]
	require.Equal(t, ActionRecordUpdated, event.Action)
	require.Equal(t, TargetTurn, event.TargetType)
	require.Equal(t, actor, event.ActorID)
	require.Equal(t, "req-42", event.RequestID)
	require.False(t, event.OccurredAt.IsZero())
}

func TestEmitEventFiltersBelowThreshold(t *testing.T) {
	service := newTestService(t)
	queue := &captureQueue{}
	emitter := NewEmitter(service, queue, true, "critical")

	emitter.EmitEvent(context.Background(), Event{Action: ActionRecordDeleted, Severity: SeverityWarning, TargetType: TargetPayment})
	require.Empty(t, queue.events)

	emitter.EmitEvent(context.Background(), Event{Action: ActionRecordDeleted, Severity: SeverityCritical, TargetType: TargetPayment})
	require.Len(t, queue.events, 1)
}

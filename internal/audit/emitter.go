package audit

import "context"

// queuer is the slice of Pipeline the emitter needs.
type queuer interface {
	Enqueue(ctx context.Context, event Event)
}

// EmitOptions carry per-call context for EmitRecord.
type EmitOptions struct {
	Severity        string
	RequestID       string
	RequestMetadata map[string]any
}

// Emitter is the single entry point producers use. It normalizes severity,
// applies the minimum-severity gate, and routes events into the pipeline.
// When the subsystem is disabled every method is a no-op, so callers never
// branch on configuration.
type Emitter struct {
	service     *Service
	pipeline    queuer
	enabled     bool
	minSeverity Severity
}

// NewEmitter constructs an emitter. minSeverity is parsed leniently; unknown
// literals mean info.
func NewEmitter(service *Service, pipeline queuer, enabled bool, minSeverity string) *Emitter {
	if service == nil {
		panic("audit: service required")
	}
	if pipeline == nil {
		panic("audit: pipeline required")
	}
	return &Emitter{
		service:     service,
		pipeline:    pipeline,
		enabled:     enabled,
		minSeverity: ParseSeverity(minSeverity),
	}
}

// EmitRecord converts a domain record into an event and enqueues it, unless
// its severity falls below the configured threshold.
func (e *Emitter) EmitRecord(ctx context.Context, record Record, opts EmitOptions) {
	if !e.enabled {
		return
	}
	severity := ParseSeverity(opts.Severity)
	event := e.service.BuildEvent(record, severity, opts.RequestID, opts.RequestMetadata)
	if event.Severity.Rank() < e.minSeverity.Rank() {
		return
	}
	e.pipeline.Enqueue(ctx, event)
}

// EmitEvent enqueues a pre-built event after severity normalization and
// threshold filtering.
func (e *Emitter) EmitEvent(ctx context.Context, event Event) {
	if !e.enabled {
		return
	}
	event.Severity = ParseSeverity(string(event.Severity))
	if event.Severity.Rank() < e.minSeverity.Rank() {
		return
	}
	e.pipeline.Enqueue(ctx, event)
}

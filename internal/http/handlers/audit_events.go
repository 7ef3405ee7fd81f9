package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/turnero/hospital-core/internal/audit"
	"github.com/turnero/hospital-core/pkg/logging"
)

// auditQuerier is the slice of audit.Service the handler needs.
type auditQuerier interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// AuditEventsHandler serves read access to the audit trail.
type AuditEventsHandler struct {
	service auditQuerier
	logger  *logging.Logger
}

// NewAuditEventsHandler wires the audit query endpoint.
func NewAuditEventsHandler(service auditQuerier, logger *logging.Logger) *AuditEventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuditEventsHandler{service: service, logger: logger}
}

// List handles GET /audit/events. Filters come from query parameters:
// actor_id, action, target_type, after, before (RFC 3339) and limit.
func (h *AuditEventsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter audit.Filter

	if raw := query.Get("actor_id"); raw != "" {
		actorID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid actor_id")
			return
		}
		filter.ActorID = actorID
	}
	if raw := query.Get("action"); raw != "" {
		filter.Action = audit.ParseAction(raw)
	}
	if raw := query.Get("target_type"); raw != "" {
		filter.TargetType = audit.ParseTargetType(raw)
	}
	if raw := query.Get("after"); raw != "" {
		after, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after timestamp, expected RFC 3339")
			return
		}
		filter.OccurredAfter = after
	}
	if raw := query.Get("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before timestamp, expected RFC 3339")
			return
		}
		filter.OccurredBefore = before
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	events, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// HistoryService lists persisted events and audit entries.
type HistoryService interface {
	Events(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
	Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// HistoryHandler serves the event log and the audit trail.
type HistoryHandler struct {
	svc    HistoryService
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(svc HistoryService, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: logHandler(logger, "history")}
}

// ListEvents returns events newest first.
// GET /api/events?limit=&offset=
func (h *HistoryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListAudit returns audit entries newest first.
// GET /api/audit?limit=&offset=
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Audit(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

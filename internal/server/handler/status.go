package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// StatusSource reports process-level vault status.
type StatusSource interface {
	PendingPersist() bool
	CurrentRound() (*domain.Round, error)
	State() *domain.VaultState
}

// StatusHandler serves the backend status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	src       StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, src StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, src: src}
}

// GetStatus responds with the mode, uptime and vault flags.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":             h.mode,
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
		"pending_persist":  h.src.PendingPersist(),
		"deposits_enabled": h.src.State().DepositsEnabled,
	}
	if cur, err := h.src.CurrentRound(); err == nil {
		resp["current_round"] = map[string]any{
			"id":           cur.ID,
			"end_time":     cur.EndTime,
			"status":       cur.Status(time.Now()),
			"participants": len(cur.Participants),
			"total_yield":  cur.TotalYield,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

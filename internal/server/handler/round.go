package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// RoundReader is the read-only round surface.
type RoundReader interface {
	Round(id uint64) (*domain.Round, error)
	CurrentRound() (*domain.Round, error)
	Rounds() []*domain.Round
}

// RoundHandler serves prize round endpoints.
type RoundHandler struct {
	rounds RoundReader
	logger *slog.Logger
}

// NewRoundHandler creates a RoundHandler.
func NewRoundHandler(rounds RoundReader, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{rounds: rounds, logger: logHandler(logger, "round")}
}

// ListRounds returns rounds newest first. Participant lists are reduced to
// a count.
// GET /api/rounds?limit=&offset=
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	all := h.rounds.Rounds()
	out := make([]map[string]any, 0, opts.Limit)
	for i := len(all) - 1 - opts.Offset; i >= 0 && len(out) < opts.Limit; i-- {
		rd := all[i]
		out = append(out, map[string]any{
			"id":               rd.ID,
			"start_time":       rd.StartTime,
			"end_time":         rd.EndTime,
			"finalized":        rd.Finalized,
			"total_yield":      rd.TotalYield,
			"participants":     len(rd.Participants),
			"winner_count":     rd.WinnerCount,
			"prize_per_winner": rd.PrizePerWinner,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": out, "total": len(all)})
}

// GetCurrentRound returns the open round.
// GET /api/rounds/current
func (h *RoundHandler) GetCurrentRound(w http.ResponseWriter, r *http.Request) {
	rd, err := h.rounds.CurrentRound()
	if err != nil {
		writeVaultError(w, r, h.logger, "get current round", err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// GetRound returns one round with participants and winners.
// GET /api/rounds/{id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	rd, err := h.rounds.Round(id)
	if err != nil {
		writeVaultError(w, r, h.logger, "get round", err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

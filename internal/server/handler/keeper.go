package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/server/middleware"
)

// KeeperService is the maintenance surface of the vault.
type KeeperService interface {
	Harvest(ctx context.Context, p domain.Principal, ids []string) (harvest.Report, error)
	Rebalance(ctx context.Context, p domain.Principal) (allocator.RebalanceReport, error)
	Report(ctx context.Context, p domain.Principal) (map[string]string, error)
	FinalizeRound(ctx context.Context, p domain.Principal, id uint64, requested int) (*domain.Round, error)
}

// KeeperHandler lets operators trigger keeper tasks on demand.
type KeeperHandler struct {
	svc    KeeperService
	logger *slog.Logger
}

// NewKeeperHandler creates a KeeperHandler.
func NewKeeperHandler(svc KeeperService, logger *slog.Logger) *KeeperHandler {
	return &KeeperHandler{svc: svc, logger: logHandler(logger, "keeper")}
}

type harvestRequest struct {
	StrategyIDs []string `json:"strategy_ids,omitempty"`
}

// Harvest harvests the listed strategies, or all active ones. The body is
// optional.
// POST /api/keeper/harvest
func (h *KeeperHandler) Harvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := h.svc.Harvest(r.Context(), middleware.PrincipalFrom(r.Context()), req.StrategyIDs)
	if err != nil {
		writeVaultError(w, r, h.logger, "harvest", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Rebalance runs one rebalance pass.
// POST /api/keeper/rebalance
func (h *KeeperHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Rebalance(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		writeVaultError(w, r, h.logger, "rebalance", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Report refreshes strategy balances.
// POST /api/keeper/report
func (h *KeeperHandler) Report(w http.ResponseWriter, r *http.Request) {
	failed, err := h.svc.Report(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		writeVaultError(w, r, h.logger, "report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": failed})
}

type finalizeRequest struct {
	Winners int `json:"winners"`
}

// FinalizeRound draws winners for an ended round.
// POST /api/keeper/rounds/{id}/finalize
func (h *KeeperHandler) FinalizeRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	var req finalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	round, err := h.svc.FinalizeRound(r.Context(), middleware.PrincipalFrom(r.Context()), id, req.Winners)
	if err != nil {
		writeVaultError(w, r, h.logger, "finalize round", err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/server/middleware"
	"github.com/alanyoungcy/prizevault/internal/strategy"
)

// StrategyService is the strategy management surface of the vault.
type StrategyService interface {
	Strategies() []*domain.StrategyInfo
	Strategy(id string) (*domain.StrategyInfo, error)
	RegisterStrategy(ctx context.Context, p domain.Principal, reg allocator.Registration, adapter domain.Strategy) error
	UpdateWeight(ctx context.Context, p domain.Principal, id string, weightBps uint32) error
	RemoveStrategy(ctx context.Context, p domain.Principal, id string) (*uint256.Int, error)
	EmergencyExit(ctx context.Context, p domain.Principal, id string) (*uint256.Int, error)
	Deploy(ctx context.Context, p domain.Principal, id string, amount *uint256.Int) error
}

// AdapterBuilder constructs adapters for newly registered strategies.
type AdapterBuilder interface {
	Build(cfg strategy.Config, env strategy.Env) (domain.Strategy, error)
}

// StrategyHandler serves strategy listing and management endpoints.
type StrategyHandler struct {
	svc     StrategyService
	builder AdapterBuilder
	env     strategy.Env
	logger  *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(svc StrategyService, builder AdapterBuilder, env strategy.Env, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		svc:     svc,
		builder: builder,
		env:     env,
		logger:  logHandler(logger, "strategy"),
	}
}

// ListStrategies returns every registered strategy, including inactive ones.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": h.svc.Strategies()})
}

// GetStrategy returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Strategy(pathParam(r, "id"))
	if err != nil {
		writeVaultError(w, r, h.logger, "get strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type registerStrategyRequest struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	WeightBps uint32            `json:"weight_bps"`
	RiskTier  string            `json:"risk_tier"`
	Params    map[string]string `json:"params,omitempty"`
}

// RegisterStrategy builds an adapter and registers it.
// POST /api/admin/strategies
func (h *StrategyHandler) RegisterStrategy(w http.ResponseWriter, r *http.Request) {
	var req registerStrategyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tier := domain.RiskTier(req.RiskTier)
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, "risk_tier must be low, medium or high")
		return
	}
	p := middleware.PrincipalFrom(r.Context())
	if err := p.Require(domain.CapStrategies); err != nil {
		writeVaultError(w, r, h.logger, "register strategy", err)
		return
	}

	adapter, err := h.builder.Build(strategy.Config{ID: req.ID, Kind: req.Kind, Params: req.Params}, h.env)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg := allocator.Registration{ID: req.ID, Kind: req.Kind, WeightBps: req.WeightBps, Tier: tier}
	if err := h.svc.RegisterStrategy(r.Context(), p, reg, adapter); err != nil {
		writeVaultError(w, r, h.logger, "register strategy", err)
		return
	}
	info, err := h.svc.Strategy(req.ID)
	if err != nil {
		writeVaultError(w, r, h.logger, "register strategy", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

type weightRequest struct {
	WeightBps uint32 `json:"weight_bps"`
}

// UpdateWeight changes a strategy's target weight.
// PUT /api/admin/strategies/{id}/weight
func (h *StrategyHandler) UpdateWeight(w http.ResponseWriter, r *http.Request) {
	var req weightRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	if err := h.svc.UpdateWeight(r.Context(), middleware.PrincipalFrom(r.Context()), id, req.WeightBps); err != nil {
		writeVaultError(w, r, h.logger, "update weight", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "weight_bps": req.WeightBps})
}

// RemoveStrategy exits and deactivates a strategy.
// DELETE /api/admin/strategies/{id}
func (h *StrategyHandler) RemoveStrategy(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	recovered, err := h.svc.RemoveStrategy(r.Context(), middleware.PrincipalFrom(r.Context()), id)
	if err != nil {
		writeVaultError(w, r, h.logger, "remove strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "recovered": recovered})
}

// EmergencyExit unwinds a strategy but keeps it registered.
// POST /api/admin/strategies/{id}/exit
func (h *StrategyHandler) EmergencyExit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	recovered, err := h.svc.EmergencyExit(r.Context(), middleware.PrincipalFrom(r.Context()), id)
	if err != nil {
		writeVaultError(w, r, h.logger, "emergency exit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "recovered": recovered})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// Deploy moves idle balance into a strategy.
// POST /api/keeper/strategies/{id}/deploy
func (h *StrategyHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := pathParam(r, "id")
	if err := h.svc.Deploy(r.Context(), middleware.PrincipalFrom(r.Context()), id, amount); err != nil {
		writeVaultError(w, r, h.logger, "deploy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deployed": amount})
}

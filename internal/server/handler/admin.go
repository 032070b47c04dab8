package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/lottery"
	"github.com/alanyoungcy/prizevault/internal/risk"
	"github.com/alanyoungcy/prizevault/internal/server/middleware"
)

// AdminService is the policy surface of the vault.
type AdminService interface {
	Pause(ctx context.Context, p domain.Principal) error
	Unpause(ctx context.Context, p domain.Principal) error
	SetFees(ctx context.Context, p domain.Principal, cfg harvest.FeeConfig) error
	SetRiskLimits(ctx context.Context, p domain.Principal, limits risk.Limits) error
	SetWithdrawalDelay(ctx context.Context, p domain.Principal, delay time.Duration) error
	SetAllocatorConfig(ctx context.Context, p domain.Principal, cfg allocator.Config) error
	SetLotteryConfig(ctx context.Context, p domain.Principal, cfg lottery.Config) error
	SetAsset(ctx context.Context, p domain.Principal, info *domain.AssetInfo) error
	Assets() []*domain.AssetInfo
}

// AdminHandler serves pause, policy and asset endpoints.
type AdminHandler struct {
	svc    AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logHandler(logger, "admin")}
}

// Pause disables deposits.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Pause(r.Context(), middleware.PrincipalFrom(r.Context())); err != nil {
		writeVaultError(w, r, h.logger, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deposits_enabled": false})
}

// Unpause re-enables deposits.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unpause(r.Context(), middleware.PrincipalFrom(r.Context())); err != nil {
		writeVaultError(w, r, h.logger, "unpause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deposits_enabled": true})
}

type feesRequest struct {
	ManagementBps  uint32 `json:"management_bps"`
	PerformanceBps uint32 `json:"performance_bps"`
	Recipient      string `json:"recipient"`
}

// SetFees replaces the fee configuration.
// PUT /api/admin/fees
func (h *AdminHandler) SetFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := harvest.FeeConfig{ManagementBps: req.ManagementBps, PerformanceBps: req.PerformanceBps}
	if req.Recipient != "" {
		addr, err := parseAddress("recipient", req.Recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Recipient = addr
	}
	if err := h.svc.SetFees(r.Context(), middleware.PrincipalFrom(r.Context()), cfg); err != nil {
		writeVaultError(w, r, h.logger, "set fees", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type riskRequest struct {
	MaxAllocationBps uint32            `json:"max_allocation_bps"`
	MaxDrawdownBps   uint32            `json:"max_drawdown_bps"`
	MaxWithdrawalBps uint32            `json:"max_withdrawal_bps"`
	TierCapBps       map[string]uint32 `json:"tier_cap_bps"`
	MaxTotalAssets   string            `json:"max_total_assets,omitempty"`
}

// SetRiskLimits replaces the risk limits.
// PUT /api/admin/risk
func (h *AdminHandler) SetRiskLimits(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limits := risk.Limits{
		MaxAllocationBps: req.MaxAllocationBps,
		MaxDrawdownBps:   req.MaxDrawdownBps,
		MaxWithdrawalBps: req.MaxWithdrawalBps,
		TierCapBps:       make(map[domain.RiskTier]uint32, len(req.TierCapBps)),
	}
	for tier, bps := range req.TierCapBps {
		limits.TierCapBps[domain.RiskTier(strings.ToLower(tier))] = bps
	}
	if req.MaxTotalAssets != "" {
		v, err := parseAmount("max_total_assets", req.MaxTotalAssets)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		limits.MaxTotalAssets = v
	}
	if err := h.svc.SetRiskLimits(r.Context(), middleware.PrincipalFrom(r.Context()), limits); err != nil {
		writeVaultError(w, r, h.logger, "set risk limits", err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

type delayRequest struct {
	Delay string `json:"delay"`
}

// SetWithdrawalDelay changes the withdrawal delay.
// PUT /api/admin/withdrawal-delay
func (h *AdminHandler) SetWithdrawalDelay(w http.ResponseWriter, r *http.Request) {
	var req delayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := time.ParseDuration(req.Delay)
	if err != nil || d < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid delay %q", req.Delay))
		return
	}
	if err := h.svc.SetWithdrawalDelay(r.Context(), middleware.PrincipalFrom(r.Context()), d); err != nil {
		writeVaultError(w, r, h.logger, "set withdrawal delay", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"delay": d.String()})
}

// SetAllocatorConfig changes rebalance tuning.
// PUT /api/admin/allocator
func (h *AdminHandler) SetAllocatorConfig(w http.ResponseWriter, r *http.Request) {
	var cfg allocator.Config
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.SetAllocatorConfig(r.Context(), middleware.PrincipalFrom(r.Context()), cfg); err != nil {
		writeVaultError(w, r, h.logger, "set allocator config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type lotteryRequest struct {
	RoundDuration string `json:"round_duration"`
	MinWinners    int    `json:"min_winners"`
	MaxWinners    int    `json:"max_winners"`
}

// SetLotteryConfig changes round length and winner bounds. The new length
// applies from the next round.
// PUT /api/admin/lottery
func (h *AdminHandler) SetLotteryConfig(w http.ResponseWriter, r *http.Request) {
	var req lotteryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := time.ParseDuration(req.RoundDuration)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid round_duration %q", req.RoundDuration))
		return
	}
	cfg := lottery.Config{RoundDuration: d, MinWinners: req.MinWinners, MaxWinners: req.MaxWinners}
	if err := h.svc.SetLotteryConfig(r.Context(), middleware.PrincipalFrom(r.Context()), cfg); err != nil {
		writeVaultError(w, r, h.logger, "set lottery config", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type assetRequest struct {
	Decimals    uint8  `json:"decimals"`
	Supported   bool   `json:"supported"`
	MinDeposit  string `json:"min_deposit"`
	MaxDeposit  string `json:"max_deposit"`
	Conversion  string `json:"conversion"`
	SlippageBps uint32 `json:"slippage_bps"`
}

// SetAsset adds or updates a deposit asset.
// PUT /api/admin/assets/{symbol}
func (h *AdminHandler) SetAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info := &domain.AssetInfo{
		Symbol:      pathParam(r, "symbol"),
		Decimals:    req.Decimals,
		Supported:   req.Supported,
		Conversion:  domain.Conversion(req.Conversion),
		SlippageBps: req.SlippageBps,
		MinDeposit:  new(uint256.Int),
		MaxDeposit:  new(uint256.Int),
	}
	if req.MinDeposit != "" {
		v, err := parseAmount("min_deposit", req.MinDeposit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		info.MinDeposit = v
	}
	if req.MaxDeposit != "" {
		v, err := parseAmount("max_deposit", req.MaxDeposit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		info.MaxDeposit = v
	}
	if err := h.svc.SetAsset(r.Context(), middleware.PrincipalFrom(r.Context()), info); err != nil {
		writeVaultError(w, r, h.logger, "set asset", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ListAssets returns every registered deposit asset.
// GET /api/assets
func (h *AdminHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": h.svc.Assets()})
}

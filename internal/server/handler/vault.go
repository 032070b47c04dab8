package handler

import (
	"log/slog"
	"net/http"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/vault"
)

// VaultReader is the read-only vault surface.
type VaultReader interface {
	State() *domain.VaultState
	Totals() (domain.Totals, error)
	SharePrice() (*uint256.Int, error)
	ConvertToShares(assets *uint256.Int) (*uint256.Int, error)
	ConvertToAssets(shares *uint256.Int) (*uint256.Int, error)
	Settings() vault.Settings
	Asset(symbol string) (*domain.AssetInfo, error)
}

// VaultHandler serves aggregate vault state.
type VaultHandler struct {
	vault  VaultReader
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(v VaultReader, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{vault: v, logger: logHandler(logger, "vault")}
}

type vaultResponse struct {
	State              *domain.VaultState `json:"state"`
	Totals             domain.Totals      `json:"totals"`
	SharePrice         *uint256.Int       `json:"share_price"`
	SharePriceDisplay  string             `json:"share_price_display"`
	TotalAssetsDisplay string             `json:"total_assets_display"`
	PrizePoolDisplay   string             `json:"prize_pool_display"`
	Settings           vault.Settings     `json:"settings"`
}

// GetVault returns state, totals, share price and live settings.
// GET /api/vault
func (h *VaultHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	totals, err := h.vault.Totals()
	if err != nil {
		writeVaultError(w, r, h.logger, "get totals", err)
		return
	}
	price, err := h.vault.SharePrice()
	if err != nil {
		writeVaultError(w, r, h.logger, "get share price", err)
		return
	}
	settings := h.vault.Settings()
	var decimals uint8
	if base, err := h.vault.Asset(settings.BaseAsset); err == nil {
		decimals = base.Decimals
	}

	writeJSON(w, http.StatusOK, vaultResponse{
		State:              h.vault.State(),
		Totals:             totals,
		SharePrice:         price,
		SharePriceDisplay:  display(price, 18),
		TotalAssetsDisplay: display(totals.TotalAssets, decimals),
		PrizePoolDisplay:   display(totals.PrizePool, decimals),
		Settings:           settings,
	})
}

// Convert previews share/asset conversion at the current price.
// GET /api/vault/convert?assets=N or ?shares=N
func (h *VaultHandler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("assets") != "":
		assets, err := parseAmount("assets", q.Get("assets"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		shares, err := h.vault.ConvertToShares(assets)
		if err != nil {
			writeVaultError(w, r, h.logger, "convert to shares", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assets": assets, "shares": shares})
	case q.Get("shares") != "":
		shares, err := parseAmount("shares", q.Get("shares"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		assets, err := h.vault.ConvertToAssets(shares)
		if err != nil {
			writeVaultError(w, r, h.logger, "convert to assets", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assets": assets, "shares": shares})
	default:
		writeError(w, http.StatusBadRequest, "assets or shares query parameter required")
	}
}

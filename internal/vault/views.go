package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/lottery"
	"github.com/alanyoungcy/prizevault/internal/risk"
)

// Every view returns deep copies.

// State returns the vault-wide counters.
func (v *Vault) State() *domain.VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.State()
}

// Totals returns the headline figures.
func (v *Vault) Totals() (domain.Totals, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.Totals()
}

// SharePrice returns assets per share scaled by 1e18.
func (v *Vault) SharePrice() (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.SharePrice()
}

// ConvertToShares previews the shares minted for assets.
func (v *Vault) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.ConvertToShares(assets)
}

// ConvertToAssets previews the assets redeemable for shares.
func (v *Vault) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.ConvertToAssets(shares)
}

// PreviewWithdraw returns the shares burned to withdraw assets.
func (v *Vault) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.PreviewWithdraw(assets)
}

// Position returns owner's position.
func (v *Vault) Position(owner common.Address) (*domain.Position, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.Position(owner)
}

// Positions returns every position in creation order.
func (v *Vault) Positions() []*domain.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.Positions()
}

// WithdrawalReadyAt reports when owner's pending request may execute.
func (v *Vault) WithdrawalReadyAt(owner common.Address) (time.Time, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pos, err := v.ledger.Position(owner)
	if err != nil {
		return time.Time{}, err
	}
	if !pos.WithdrawalPending {
		return time.Time{}, domain.ErrNotRequested
	}
	return v.withdrawals.ReadyAt(pos.WithdrawalRequestedAt), nil
}

// Strategy returns strategy id.
func (v *Vault) Strategy(id string) (*domain.StrategyInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.alloc.Strategy(id)
}

// Strategies returns every registered strategy in registration order.
func (v *Vault) Strategies() []*domain.StrategyInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.alloc.Strategies()
}

// Round returns round id.
func (v *Vault) Round(id uint64) (*domain.Round, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lottery.Round(id)
}

// CurrentRound returns the latest round.
func (v *Vault) CurrentRound() (*domain.Round, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lottery.Current()
}

// Rounds returns every round in ID order.
func (v *Vault) Rounds() []*domain.Round {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lottery.Rounds()
}

// Asset returns the registry entry for symbol.
func (v *Vault) Asset(symbol string) (*domain.AssetInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.assets.Get(symbol)
}

// Assets returns every registered asset.
func (v *Vault) Assets() []*domain.AssetInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.assets.List()
}

// Settings is the live policy of every component.
type Settings struct {
	BaseAsset       string            `json:"base_asset"`
	Fees            harvest.FeeConfig `json:"fees"`
	Risk            risk.Limits       `json:"risk"`
	Allocator       allocator.Config  `json:"allocator"`
	Lottery         lottery.Config    `json:"lottery"`
	WithdrawalDelay time.Duration     `json:"withdrawal_delay"`
}

// Settings returns the live policy.
func (v *Vault) Settings() Settings {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Settings{
		BaseAsset:       v.assets.Base(),
		Fees:            v.harvester.Config(),
		Risk:            v.gate.Limits(),
		Allocator:       v.alloc.Config(),
		Lottery:         v.lottery.Config(),
		WithdrawalDelay: v.withdrawals.Delay(),
	}
}

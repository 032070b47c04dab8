package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// VaultState is the ledger's aggregate bookkeeping. The prize pool is held
// apart from the idle balance so that yield credited to rounds never moves
// the share price.
type VaultState struct {
	TotalShares         *uint256.Int `json:"total_shares"`
	IdleBalance         *uint256.Int `json:"idle_balance"`
	PrizePool           *uint256.Int `json:"prize_pool"`
	AccruedFees         *uint256.Int `json:"accrued_fees"`
	FeesPaid            *uint256.Int `json:"fees_paid"`
	TotalYieldGenerated *uint256.Int `json:"total_yield_generated"`
	TotalPrincipal      *uint256.Int `json:"total_principal"`
	// SharePriceHigh is the highest observed share price, scaled by 1e18.
	SharePriceHigh *uint256.Int `json:"share_price_high"`
	// UnsettledYield was pulled out of strategies by a harvest whose fee
	// transfer failed. It sits outside total assets until the next harvest
	// distributes it.
	UnsettledYield    *uint256.Int `json:"unsettled_yield"`
	LastFeeCollection time.Time    `json:"last_fee_collection"`
	DepositsEnabled   bool         `json:"deposits_enabled"`
}

// NewVaultState returns a zeroed state with deposits enabled.
func NewVaultState(now time.Time) *VaultState {
	return &VaultState{
		TotalShares:         new(uint256.Int),
		IdleBalance:         new(uint256.Int),
		PrizePool:           new(uint256.Int),
		AccruedFees:         new(uint256.Int),
		FeesPaid:            new(uint256.Int),
		TotalYieldGenerated: new(uint256.Int),
		TotalPrincipal:      new(uint256.Int),
		SharePriceHigh:      new(uint256.Int),
		UnsettledYield:      new(uint256.Int),
		LastFeeCollection:   now,
		DepositsEnabled:     true,
	}
}

// Clone returns a deep copy of s.
func (s *VaultState) Clone() *VaultState {
	out := *s
	out.TotalShares = s.TotalShares.Clone()
	out.IdleBalance = s.IdleBalance.Clone()
	out.PrizePool = s.PrizePool.Clone()
	out.AccruedFees = s.AccruedFees.Clone()
	out.FeesPaid = s.FeesPaid.Clone()
	out.TotalYieldGenerated = s.TotalYieldGenerated.Clone()
	out.TotalPrincipal = s.TotalPrincipal.Clone()
	out.SharePriceHigh = s.SharePriceHigh.Clone()
	if s.UnsettledYield != nil {
		out.UnsettledYield = s.UnsettledYield.Clone()
	}
	return &out
}

// Totals is the economic summary attached to every event.
type Totals struct {
	TotalAssets *uint256.Int `json:"total_assets"`
	TotalShares *uint256.Int `json:"total_shares"`
	IdleBalance *uint256.Int `json:"idle_balance"`
	Deployed    *uint256.Int `json:"deployed"`
	PrizePool   *uint256.Int `json:"prize_pool"`
	AccruedFees *uint256.Int `json:"accrued_fees"`
}

package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// MaxWeightBps is the sum ceiling for active strategy weights.
const MaxWeightBps = 10_000

// RiskTier classifies a strategy for deployment caps.
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

// Valid reports whether t is a known tier.
func (t RiskTier) Valid() bool {
	switch t {
	case RiskTierLow, RiskTierMedium, RiskTierHigh:
		return true
	}
	return false
}

// StrategyInfo is the allocator's record of a registered strategy.
type StrategyInfo struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind"`
	WeightBps      uint32       `json:"weight_bps"`
	CurrentBalance *uint256.Int `json:"current_balance"`
	// Principal is capital deployed net of withdrawals. CurrentBalance never
	// exceeds it.
	Principal    *uint256.Int `json:"principal"`
	RiskTier     RiskTier     `json:"risk_tier"`
	Active       bool         `json:"active"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastReportAt time.Time    `json:"last_report_at"`
	LastError    string       `json:"last_error,omitempty"`
}

// Clone returns a deep copy of s.
func (s *StrategyInfo) Clone() *StrategyInfo {
	out := *s
	out.CurrentBalance = s.CurrentBalance.Clone()
	if s.Principal != nil {
		out.Principal = s.Principal.Clone()
	}
	return &out
}

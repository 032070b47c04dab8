// Package risk implements the policy filter consulted before deposits,
// withdrawals and allocation changes. Evaluation is a pure function of the
// state it is given and the configured limits; nothing is cached between
// calls.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// Limits holds the tunable thresholds. A zero bps value or a nil amount
// disables that check.
type Limits struct {
	MaxAllocationBps uint32                     `json:"max_allocation_bps"`
	MaxDrawdownBps   uint32                     `json:"max_drawdown_bps"`
	TierCapBps       map[domain.RiskTier]uint32 `json:"tier_cap_bps"`
	MaxTotalAssets   *uint256.Int               `json:"max_total_assets,omitempty"`
	MaxWithdrawalBps uint32                     `json:"max_withdrawal_bps"`
}

// Clone returns a deep copy of l.
func (l Limits) Clone() Limits {
	out := l
	if l.MaxTotalAssets != nil {
		out.MaxTotalAssets = l.MaxTotalAssets.Clone()
	}
	out.TierCapBps = make(map[domain.RiskTier]uint32, len(l.TierCapBps))
	for k, v := range l.TierCapBps {
		out.TierCapBps[k] = v
	}
	return out
}

// Validate checks limits for internal consistency.
func (l Limits) Validate() error {
	for _, v := range []uint32{l.MaxAllocationBps, l.MaxDrawdownBps, l.MaxWithdrawalBps} {
		if v > sharemath.BpsDenominator {
			return fmt.Errorf("risk: limit %d bps exceeds 10000: %w", v, domain.ErrInvalidWeight)
		}
	}
	for tier, v := range l.TierCapBps {
		if !tier.Valid() {
			return fmt.Errorf("risk: unknown tier %q", tier)
		}
		if v > sharemath.BpsDenominator {
			return fmt.Errorf("risk: tier %s cap %d bps exceeds 10000: %w", tier, v, domain.ErrInvalidWeight)
		}
	}
	return nil
}

// OpKind is the operation class under evaluation.
type OpKind string

const (
	OpDeposit  OpKind = "deposit"
	OpWithdraw OpKind = "withdraw"
	OpDeploy   OpKind = "deploy"
	OpAllocate OpKind = "allocate"
)

// State is the slice of vault state the gate looks at.
type State struct {
	TotalAssets    *uint256.Int
	TotalShares    *uint256.Int
	SharePriceHigh *uint256.Int
}

// Op describes a proposed operation.
type Op struct {
	Kind   OpKind
	Amount *uint256.Int

	// Deploy and allocate only.
	StrategyID      string
	Tier            domain.RiskTier
	StrategyBalance *uint256.Int
	TierBalance     *uint256.Int
	WeightBps       uint32
}

// Decision is the gate's verdict.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, a ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, a...)}
}

// Err converts a denial into an ErrRiskRejected error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrRiskRejected, d.Reason)
}

// Evaluate applies limits to op against state.
func Evaluate(state State, op Op, limits Limits) Decision {
	switch op.Kind {
	case OpDeposit:
		return evaluateDeposit(state, op, limits)
	case OpWithdraw:
		return evaluateWithdraw(state, op, limits)
	case OpDeploy:
		headroom, err := DeployHeadroom(state, op, limits)
		if err != nil {
			return deny("deploy headroom: %v", err)
		}
		if op.Amount.Gt(headroom) {
			return deny("deploy %s to %s exceeds headroom %s", op.Amount.Dec(), op.StrategyID, headroom.Dec())
		}
		return allow()
	case OpAllocate:
		if limits.MaxAllocationBps > 0 && op.WeightBps > limits.MaxAllocationBps {
			return deny("weight %d bps for %s exceeds per-strategy max %d", op.WeightBps, op.StrategyID, limits.MaxAllocationBps)
		}
		if tierCap, ok := limits.TierCapBps[op.Tier]; ok && op.WeightBps > tierCap {
			return deny("weight %d bps for %s exceeds %s tier cap %d", op.WeightBps, op.StrategyID, op.Tier, tierCap)
		}
		return allow()
	}
	return deny("unknown operation %q", op.Kind)
}

func evaluateDeposit(state State, op Op, limits Limits) Decision {
	if limits.MaxTotalAssets != nil && !limits.MaxTotalAssets.IsZero() {
		after, err := sharemath.Add(state.TotalAssets, op.Amount)
		if err != nil || after.Gt(limits.MaxTotalAssets) {
			return deny("total assets would exceed cap %s", limits.MaxTotalAssets.Dec())
		}
	}
	if limits.MaxDrawdownBps == 0 || state.SharePriceHigh == nil || state.SharePriceHigh.IsZero() || state.TotalShares.IsZero() {
		return allow()
	}
	price, err := sharemath.SharePrice(state.TotalAssets, state.TotalShares)
	if err != nil {
		return deny("share price: %v", err)
	}
	floor, err := sharemath.Bps(state.SharePriceHigh, uint64(sharemath.BpsDenominator-limits.MaxDrawdownBps))
	if err != nil {
		return deny("drawdown floor: %v", err)
	}
	if price.Lt(floor) {
		return deny("share price %s below drawdown floor %s", price.Dec(), floor.Dec())
	}
	return allow()
}

func evaluateWithdraw(state State, op Op, limits Limits) Decision {
	if limits.MaxWithdrawalBps == 0 {
		return allow()
	}
	limit, err := sharemath.Bps(state.TotalAssets, uint64(limits.MaxWithdrawalBps))
	if err != nil {
		return deny("withdrawal cap: %v", err)
	}
	if op.Amount.Gt(limit) {
		return deny("withdrawal %s exceeds single-withdrawal cap %s", op.Amount.Dec(), limit.Dec())
	}
	return allow()
}

// DeployHeadroom is the largest amount that may still be deployed to the
// strategy in op without breaching the per-strategy or per-tier caps.
func DeployHeadroom(state State, op Op, limits Limits) (*uint256.Int, error) {
	headroom := new(uint256.Int).SetAllOne()
	if limits.MaxAllocationBps > 0 {
		ceiling, err := sharemath.Bps(state.TotalAssets, uint64(limits.MaxAllocationBps))
		if err != nil {
			return nil, err
		}
		headroom = sharemath.Min(headroom, sharemath.SubFloor(ceiling, op.StrategyBalance))
	}
	if tierBps, ok := limits.TierCapBps[op.Tier]; ok {
		ceiling, err := sharemath.Bps(state.TotalAssets, uint64(tierBps))
		if err != nil {
			return nil, err
		}
		headroom = sharemath.Min(headroom, sharemath.SubFloor(ceiling, op.TierBalance))
	}
	return headroom, nil
}

// Gate holds the active limits and logs every denial.
type Gate struct {
	limits Limits
	logger *slog.Logger
}

// NewGate returns a gate enforcing limits.
func NewGate(limits Limits, logger *slog.Logger) *Gate {
	return &Gate{
		limits: limits.Clone(),
		logger: logger.With(slog.String("component", "risk_gate")),
	}
}

// Limits returns a copy of the configured limits.
func (g *Gate) Limits() Limits { return g.limits.Clone() }

// SetLimits replaces the limits after validating them.
func (g *Gate) SetLimits(tx *journal.Tx, limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	prev := g.limits
	g.limits = limits.Clone()
	tx.OnRollback(func() { g.limits = prev })
	return nil
}

// Check evaluates op and returns a wrapped ErrRiskRejected on denial.
func (g *Gate) Check(ctx context.Context, state State, op Op) error {
	d := Evaluate(state, op, g.limits)
	if d.Allowed {
		return nil
	}
	attrs := []any{
		slog.String("op", string(op.Kind)),
		slog.String("reason", d.Reason),
	}
	if op.Amount != nil {
		attrs = append(attrs, slog.String("amount", op.Amount.Dec()))
	}
	if op.StrategyID != "" {
		attrs = append(attrs, slog.String("strategy", op.StrategyID))
	}
	g.logger.WarnContext(ctx, "risk_gate: operation rejected", attrs...)
	return d.Err()
}

// Headroom returns DeployHeadroom under the configured limits.
func (g *Gate) Headroom(state State, op Op) (*uint256.Int, error) {
	return DeployHeadroom(state, op, g.limits)
}

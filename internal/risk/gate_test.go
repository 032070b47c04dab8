package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func state(assets, shares uint64, high *uint256.Int) State {
	return State{TotalAssets: u(assets), TotalShares: u(shares), SharePriceHigh: high}
}

func TestDrawdownBlocksDeposits(t *testing.T) {
	limits := Limits{MaxDrawdownBps: 1000}
	high := sharemath.Precision.Clone()

	d := Evaluate(state(95, 100, high), Op{Kind: OpDeposit, Amount: u(10)}, limits)
	assert.True(t, d.Allowed, d.Reason)

	d = Evaluate(state(90, 100, high), Op{Kind: OpDeposit, Amount: u(10)}, limits)
	assert.True(t, d.Allowed, "exactly at the floor is allowed")

	d = Evaluate(state(89, 100, high), Op{Kind: OpDeposit, Amount: u(10)}, limits)
	assert.False(t, d.Allowed)
	assert.ErrorIs(t, d.Err(), domain.ErrRiskRejected)
}

func TestMaxTotalAssets(t *testing.T) {
	limits := Limits{MaxTotalAssets: u(1000)}
	assert.True(t, Evaluate(state(900, 900, nil), Op{Kind: OpDeposit, Amount: u(100)}, limits).Allowed)
	assert.False(t, Evaluate(state(900, 900, nil), Op{Kind: OpDeposit, Amount: u(101)}, limits).Allowed)
}

func TestSingleWithdrawalCap(t *testing.T) {
	limits := Limits{MaxWithdrawalBps: 2500}
	assert.True(t, Evaluate(state(1000, 1000, nil), Op{Kind: OpWithdraw, Amount: u(250)}, limits).Allowed)
	assert.False(t, Evaluate(state(1000, 1000, nil), Op{Kind: OpWithdraw, Amount: u(251)}, limits).Allowed)
}

func TestDeployHeadroomTakesTighterCap(t *testing.T) {
	limits := Limits{
		MaxAllocationBps: 5000,
		TierCapBps:       map[domain.RiskTier]uint32{domain.RiskTierHigh: 3000},
	}
	op := Op{
		Kind:            OpDeploy,
		Tier:            domain.RiskTierHigh,
		StrategyBalance: u(100),
		TierBalance:     u(250),
	}
	h, err := DeployHeadroom(state(1000, 1000, nil), op, limits)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), h.Uint64())

	op.Amount = u(51)
	assert.False(t, Evaluate(state(1000, 1000, nil), op, limits).Allowed)
	op.Amount = u(50)
	assert.True(t, Evaluate(state(1000, 1000, nil), op, limits).Allowed)
}

func TestAllocateRespectsPerStrategyMax(t *testing.T) {
	limits := Limits{MaxAllocationBps: 4000}
	assert.True(t, Evaluate(State{}, Op{Kind: OpAllocate, WeightBps: 4000}, limits).Allowed)
	assert.False(t, Evaluate(State{}, Op{Kind: OpAllocate, WeightBps: 4001}, limits).Allowed)
}

func TestGateSetLimitsRollsBack(t *testing.T) {
	g := NewGate(Limits{MaxDrawdownBps: 100}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tx := journal.New()
	require.NoError(t, g.SetLimits(tx, Limits{MaxDrawdownBps: 500}))
	assert.Equal(t, uint32(500), g.Limits().MaxDrawdownBps)
	tx.Rollback()
	assert.Equal(t, uint32(100), g.Limits().MaxDrawdownBps)

	err := g.SetLimits(journal.New(), Limits{MaxWithdrawalBps: 10_001})
	assert.ErrorIs(t, err, domain.ErrInvalidWeight)

	err = g.Check(context.Background(), state(10, 10, nil), Op{Kind: "bogus"})
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}

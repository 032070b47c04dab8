package allocator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/ledger"
	"github.com/alanyoungcy/prizevault/internal/risk"
)

var (
	alice   = common.HexToAddress("0xa11ce")
	t0      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	errBoom = errors.New("protocol reverted")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fakeStrategy struct {
	name        string
	balance     *uint256.Int
	yield       *uint256.Int
	paused      bool
	failExecute bool
	failHarvest bool
	calls       *[]string
}

func newFake(name string, calls *[]string) *fakeStrategy {
	return &fakeStrategy{name: name, balance: u(0), yield: u(0), calls: calls}
}

func (f *fakeStrategy) log(op string) { *f.calls = append(*f.calls, f.name+":"+op) }

func (f *fakeStrategy) Execute(_ context.Context, amount *uint256.Int) error {
	f.log("execute")
	if f.failExecute {
		return errBoom
	}
	f.balance = new(uint256.Int).Add(f.balance, amount)
	return nil
}

func (f *fakeStrategy) Harvest(context.Context) (*uint256.Int, error) {
	f.log("harvest")
	if f.failHarvest {
		return nil, errBoom
	}
	y := f.yield
	f.yield = u(0)
	return y, nil
}

func (f *fakeStrategy) EmergencyExit(context.Context) (*uint256.Int, error) {
	f.log("exit")
	out := f.balance
	f.balance = u(0)
	return out, nil
}

func (f *fakeStrategy) Balance(context.Context) (*uint256.Int, error) { return f.balance.Clone(), nil }
func (f *fakeStrategy) Paused(context.Context) (bool, error)          { return f.paused, nil }

type withdrawingStrategy struct{ *fakeStrategy }

func (w withdrawingStrategy) Withdraw(_ context.Context, amount *uint256.Int) (*uint256.Int, error) {
	w.log("withdraw")
	w.balance = new(uint256.Int).Sub(w.balance, amount)
	return amount.Clone(), nil
}

func setup(t *testing.T, limits risk.Limits) (*Allocator, *ledger.Ledger) {
	t.Helper()
	var alloc *Allocator
	l := ledger.New(t0, func() (*uint256.Int, error) { return alloc.Deployed() })
	alloc = New(l, risk.NewGate(limits, discard), Config{RebalanceThresholdBps: 100}, discard)
	_, err := l.Mint(journal.New(), alice, u(1000), t0)
	require.NoError(t, err)
	return alloc, l
}

func register(t *testing.T, a *Allocator, id string, weight uint32, s domain.Strategy) {
	t.Helper()
	require.NoError(t, a.Register(context.Background(), journal.New(), Registration{ID: id, WeightBps: weight}, s, t0))
}

func TestRegisterEnforcesWeightSum(t *testing.T) {
	a, _ := setup(t, risk.Limits{})
	var calls []string
	register(t, a, "A", 6000, newFake("A", &calls))
	register(t, a, "B", 4000, newFake("B", &calls))
	assert.Equal(t, uint64(10_000), a.WeightSum())

	tx := journal.New()
	err := a.Register(context.Background(), tx, Registration{ID: "C", WeightBps: 1}, newFake("C", &calls), t0)
	assert.ErrorIs(t, err, domain.ErrWeightOverflow)
	assert.Len(t, a.Strategies(), 2)

	err = a.Register(context.Background(), journal.New(), Registration{ID: "A", WeightBps: 0}, newFake("A", &calls), t0)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = a.UpdateWeight(context.Background(), journal.New(), "A", 6001)
	assert.ErrorIs(t, err, domain.ErrWeightOverflow)
	require.NoError(t, a.UpdateWeight(context.Background(), journal.New(), "A", 5000))
	assert.Equal(t, uint64(9000), a.WeightSum())
}

func TestRegisterRollsBack(t *testing.T) {
	a, _ := setup(t, risk.Limits{})
	var calls []string
	tx := journal.New()
	register(t, a, "A", 1000, newFake("A", &calls))
	require.NoError(t, a.Register(context.Background(), tx, Registration{ID: "B", WeightBps: 1000}, newFake("B", &calls), t0))
	tx.Rollback()
	assert.Equal(t, []string{"A"}, a.ActiveIDs())
}

func TestRegisterRespectsAllocationLimit(t *testing.T) {
	a, _ := setup(t, risk.Limits{MaxAllocationBps: 5000})
	var calls []string
	err := a.Register(context.Background(), journal.New(), Registration{ID: "A", WeightBps: 5001}, newFake("A", &calls), t0)
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}

func TestDeployGuards(t *testing.T) {
	a, l := setup(t, risk.Limits{})
	var calls []string
	paused := newFake("P", &calls)
	paused.paused = true
	register(t, a, "A", 5000, newFake("A", &calls))
	register(t, a, "P", 1000, paused)
	ctx := context.Background()

	assert.ErrorIs(t, a.Deploy(ctx, journal.New(), "P", u(10), t0), domain.ErrStrategyPaused)
	assert.ErrorIs(t, a.Deploy(ctx, journal.New(), "A", u(1001), t0), domain.ErrInsufficientIdleBalance)
	assert.ErrorIs(t, a.Deploy(ctx, journal.New(), "nope", u(1), t0), domain.ErrNotFound)

	require.NoError(t, l.SetWithdrawalRequest(journal.New(), alice, u(300), t0))
	assert.ErrorIs(t, a.Deploy(ctx, journal.New(), "A", u(701), t0), domain.ErrInsufficientIdleBalance)
	require.NoError(t, a.Deploy(ctx, journal.New(), "A", u(700), t0))

	s, err := a.Strategy("A")
	require.NoError(t, err)
	assert.Equal(t, uint64(700), s.CurrentBalance.Uint64())
	assert.Equal(t, uint64(300), l.State().IdleBalance.Uint64())

	total, err := l.TotalAssets()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), total.Uint64())
}

func TestDeployRespectsTierCap(t *testing.T) {
	a, _ := setup(t, risk.Limits{TierCapBps: map[domain.RiskTier]uint32{domain.RiskTierHigh: 2000}})
	var calls []string
	require.NoError(t, a.Register(context.Background(), journal.New(),
		Registration{ID: "H", WeightBps: 2000, Tier: domain.RiskTierHigh}, newFake("H", &calls), t0))

	assert.ErrorIs(t, a.Deploy(context.Background(), journal.New(), "H", u(201), t0), domain.ErrRiskRejected)
	require.NoError(t, a.Deploy(context.Background(), journal.New(), "H", u(200), t0))
}

func rebalanceFixture(t *testing.T) (*Allocator, *ledger.Ledger, *fakeStrategy, *[]string) {
	t.Helper()
	a, l := setup(t, risk.Limits{})
	calls := new([]string)
	register(t, a, "A", 2000, withdrawingStrategy{newFake("A", calls)})
	register(t, a, "B", 2000, newFake("B", calls))
	c := newFake("C", calls)
	register(t, a, "C", 6000, c)
	ctx := context.Background()
	require.NoError(t, a.Deploy(ctx, journal.New(), "B", u(300), t0))
	require.NoError(t, a.Deploy(ctx, journal.New(), "A", u(500), t0))
	*calls = nil
	return a, l, c, calls
}

func TestRebalanceDrainsLargestDeviationFirst(t *testing.T) {
	a, l, _, calls := rebalanceFixture(t)

	report, err := a.Rebalance(context.Background(), journal.New(), t0)
	require.NoError(t, err)
	assert.True(t, report.Triggered)
	assert.Equal(t, uint64(6000), report.MaxDeviationBps)
	assert.Empty(t, report.Failed)
	assert.Equal(t, []string{"A:withdraw", "B:exit", "B:execute", "C:execute"}, *calls)

	for id, want := range map[string]uint64{"A": 200, "B": 200, "C": 600} {
		s, err := a.Strategy(id)
		require.NoError(t, err)
		assert.Equal(t, want, s.CurrentBalance.Uint64(), id)
		assert.Equal(t, want, s.Principal.Uint64(), id)
	}
	assert.True(t, l.State().IdleBalance.IsZero())
}

func TestRebalanceIsolatesFailures(t *testing.T) {
	a, l, c, _ := rebalanceFixture(t)
	c.failExecute = true

	report, err := a.Rebalance(context.Background(), journal.New(), t0)
	require.NoError(t, err)
	require.Contains(t, report.Failed, "C")

	s, err := a.Strategy("C")
	require.NoError(t, err)
	assert.True(t, s.CurrentBalance.IsZero())
	assert.NotEmpty(t, s.LastError)

	a2, err := a.Strategy("A")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), a2.CurrentBalance.Uint64())
	assert.Equal(t, uint64(600), l.State().IdleBalance.Uint64())

	total, err := l.TotalAssets()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), total.Uint64())
}

func TestRebalanceBelowThresholdIsNoop(t *testing.T) {
	a, _ := setup(t, risk.Limits{})
	var calls []string
	register(t, a, "A", 5000, newFake("A", &calls))
	require.NoError(t, a.Deploy(context.Background(), journal.New(), "A", u(495), t0))
	calls = nil

	report, err := a.Rebalance(context.Background(), journal.New(), t0)
	require.NoError(t, err)
	assert.False(t, report.Triggered)
	assert.Empty(t, calls)
}

func TestRebalanceKeepsReserveIdle(t *testing.T) {
	a, l := setup(t, risk.Limits{})
	var calls []string
	register(t, a, "A", 10_000, newFake("A", &calls))
	require.NoError(t, l.SetWithdrawalRequest(journal.New(), alice, u(400), t0))

	_, err := a.Rebalance(context.Background(), journal.New(), t0)
	require.NoError(t, err)
	s, err := a.Strategy("A")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), s.CurrentBalance.Uint64())
	assert.Equal(t, uint64(400), l.State().IdleBalance.Uint64())
}

func TestExitSweepsAndDeactivates(t *testing.T) {
	a, l := setup(t, risk.Limits{})
	var calls []string
	f := newFake("A", &calls)
	register(t, a, "A", 5000, f)
	require.NoError(t, a.Deploy(context.Background(), journal.New(), "A", u(400), t0))
	f.balance = u(420)

	recovered, err := a.Exit(context.Background(), journal.New(), "A", true, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(420), recovered.Uint64())

	s, err := a.Strategy("A")
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.Zero(t, s.WeightBps)
	assert.True(t, s.CurrentBalance.IsZero())
	assert.Equal(t, uint64(1020), l.State().IdleBalance.Uint64())

	assert.ErrorIs(t, a.Deploy(context.Background(), journal.New(), "A", u(1), t0), domain.ErrStrategyInactive)
}

func TestReportAndHarvestAreBestEffort(t *testing.T) {
	a, _ := setup(t, risk.Limits{})
	var calls []string
	good := newFake("G", &calls)
	bad := newFake("X", &calls)
	bad.failHarvest = true
	register(t, a, "G", 5000, good)
	register(t, a, "X", 5000, bad)
	require.NoError(t, a.Deploy(context.Background(), journal.New(), "G", u(100), t0))
	good.balance = u(110)
	good.yield = u(7)

	rep := a.Report(context.Background(), journal.New(), t0.Add(time.Minute))
	assert.Empty(t, rep.Failed())
	s, err := a.Strategy("G")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.CurrentBalance.Uint64(), "unharvested gains stay off the books")
	assert.Equal(t, uint64(100), s.Principal.Uint64())

	out := a.Harvest(context.Background(), journal.New(), nil, t0)
	require.Len(t, out.Succeeded(), 1)
	assert.Equal(t, uint64(7), out.Succeeded()[0].Value.Uint64())
	require.Len(t, out.Failed(), 1)
	assert.Equal(t, "X", out.Failed()[0].Key)
}

func TestReportRecognizesLossesNotGains(t *testing.T) {
	a, l := setup(t, risk.Limits{})
	var calls []string
	s := newFake("S", &calls)
	register(t, a, "S", 10_000, s)
	require.NoError(t, a.Deploy(context.Background(), journal.New(), "S", u(400), t0))
	price, err := l.SharePrice()
	require.NoError(t, err)

	s.balance = u(500)
	a.Report(context.Background(), journal.New(), t0)
	after, err := l.SharePrice()
	require.NoError(t, err)
	assert.Equal(t, price, after)

	s.balance = u(300)
	a.Report(context.Background(), journal.New(), t0)
	info, err := a.Strategy("S")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), info.CurrentBalance.Uint64())
	total, err := l.TotalAssets()
	require.NoError(t, err)
	assert.Equal(t, uint64(900), total.Uint64())

	s.balance = u(450)
	a.Report(context.Background(), journal.New(), t0)
	info, err = a.Strategy("S")
	require.NoError(t, err)
	assert.Equal(t, uint64(400), info.CurrentBalance.Uint64(), "recovery is capped at principal")
}

func TestRestoreDefaultsPrincipalToBalance(t *testing.T) {
	a, _ := setup(t, risk.Limits{})
	a.Restore([]*domain.StrategyInfo{{ID: "old", CurrentBalance: u(250), Active: true}})
	info, err := a.Strategy("old")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), info.Principal.Uint64())
}

package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/batch"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// MoveKind says how capital moved during a rebalance.
type MoveKind string

const (
	MoveWithdraw MoveKind = "withdraw"
	MoveExit     MoveKind = "exit"
	MoveDeploy   MoveKind = "deploy"
)

// Move is one adapter interaction performed by a rebalance.
type Move struct {
	StrategyID string       `json:"strategy_id"`
	Kind       MoveKind     `json:"kind"`
	Amount     *uint256.Int `json:"amount"`
}

// RebalanceReport summarizes a rebalance pass.
type RebalanceReport struct {
	Triggered       bool              `json:"triggered"`
	MaxDeviationBps uint64            `json:"max_deviation_bps"`
	Reserve         *uint256.Int      `json:"reserve"`
	Moves           []Move            `json:"moves"`
	Failed          map[string]string `json:"failed,omitempty"`
}

type plan struct {
	e       *entry
	idx     int
	target  *uint256.Int
	balance *uint256.Int
	devBps  uint64
}

// Rebalance moves capital toward target weights when any strategy deviates
// from its target by at least the configured threshold. Overweight
// strategies are drained first, largest excess first; underweight ones are
// then filled, largest deficit first. The pending-withdrawal reserve always
// stays idle.
func (a *Allocator) Rebalance(ctx context.Context, tx *journal.Tx, now time.Time) (RebalanceReport, error) {
	report := RebalanceReport{Reserve: sharemath.Zero()}
	total, err := a.treasury.TotalAssets()
	if err != nil {
		return report, fmt.Errorf("allocator: rebalance: %w", err)
	}
	if total.IsZero() {
		return report, nil
	}
	reserve, err := a.treasury.PendingWithdrawals()
	if err != nil {
		return report, fmt.Errorf("allocator: rebalance: %w", err)
	}
	report.Reserve = reserve
	deployable := sharemath.SubFloor(total, reserve)

	var plans []*plan
	for i, id := range a.order {
		e := a.entries[id]
		if !e.info.Active || e.adapter == nil {
			continue
		}
		target, err := sharemath.Bps(deployable, uint64(e.info.WeightBps))
		if err != nil {
			return report, fmt.Errorf("allocator: rebalance target %q: %w", id, err)
		}
		actual, err := sharemath.RatioBps(e.info.CurrentBalance, total)
		if err != nil {
			return report, fmt.Errorf("allocator: rebalance ratio %q: %w", id, err)
		}
		p := &plan{e: e, idx: i, target: target, balance: e.info.CurrentBalance.Clone(), devBps: absDiff(actual, uint64(e.info.WeightBps))}
		if p.devBps > report.MaxDeviationBps {
			report.MaxDeviationBps = p.devBps
		}
		plans = append(plans, p)
	}
	if report.MaxDeviationBps == 0 || report.MaxDeviationBps < uint64(a.cfg.RebalanceThresholdBps) {
		return report, nil
	}
	report.Triggered = true
	report.Failed = make(map[string]string)

	var over, under []*plan
	for _, p := range plans {
		switch {
		case p.balance.Gt(p.target):
			over = append(over, p)
		case p.balance.Lt(p.target):
			under = append(under, p)
		}
	}
	sortByGap(over, func(p *plan) *uint256.Int { return new(uint256.Int).Sub(p.balance, p.target) })
	sortByGap(under, func(p *plan) *uint256.Int { return new(uint256.Int).Sub(p.target, p.balance) })

	drained := batch.BestEffort(ctx, a.logger, "rebalance_drain", ids(over),
		func(ctx context.Context, id string) ([]Move, error) {
			return a.drain(ctx, tx, a.entries[id], deployable, now)
		})
	for _, r := range drained.Results {
		report.Moves = append(report.Moves, r.Value...)
		if r.Err != nil {
			report.Failed[r.Key] = r.Err.Error()
			a.forWrite(tx, a.entries[r.Key]).LastError = r.Err.Error()
		}
	}

	filled := batch.BestEffort(ctx, a.logger, "rebalance_fill", ids(under),
		func(ctx context.Context, id string) (*Move, error) {
			return a.fill(ctx, tx, a.entries[id], deployable, now)
		})
	for _, r := range filled.Results {
		if r.Err != nil {
			report.Failed[r.Key] = r.Err.Error()
			a.forWrite(tx, a.entries[r.Key]).LastError = r.Err.Error()
			continue
		}
		if r.Value != nil {
			report.Moves = append(report.Moves, *r.Value)
		}
	}

	a.logger.InfoContext(ctx, "rebalance complete",
		slog.Uint64("max_deviation_bps", report.MaxDeviationBps),
		slog.Int("moves", len(report.Moves)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// drain brings an overweight strategy down to its target. Adapters with a
// partial Withdraw release just the excess; others are exited and the target
// is redeployed.
func (a *Allocator) drain(ctx context.Context, tx *journal.Tx, e *entry, deployable *uint256.Int, now time.Time) ([]Move, error) {
	target, err := sharemath.Bps(deployable, uint64(e.info.WeightBps))
	if err != nil {
		return nil, err
	}
	if !e.info.CurrentBalance.Gt(target) {
		return nil, nil
	}
	excess := new(uint256.Int).Sub(e.info.CurrentBalance, target)

	if w, ok := e.adapter.(domain.Withdrawer); ok {
		got, err := batch.Call(ctx, func(ctx context.Context) (*uint256.Int, error) {
			return w.Withdraw(ctx, excess)
		})
		if err != nil {
			return nil, err
		}
		if got == nil {
			got = sharemath.Zero()
		}
		if err := a.treasury.CreditIdle(tx, got); err != nil {
			return nil, err
		}
		info := a.forWrite(tx, e)
		info.CurrentBalance = sharemath.SubFloor(info.CurrentBalance, got)
		info.Principal = sharemath.SubFloor(info.Principal, got)
		info.LastReportAt = now
		info.LastError = ""
		return []Move{{StrategyID: e.info.ID, Kind: MoveWithdraw, Amount: got}}, nil
	}

	recovered, err := batch.Call(ctx, e.adapter.EmergencyExit)
	if err != nil {
		return nil, err
	}
	if recovered == nil {
		recovered = sharemath.Zero()
	}
	if err := a.treasury.CreditIdle(tx, recovered); err != nil {
		return nil, err
	}
	info := a.forWrite(tx, e)
	info.CurrentBalance = sharemath.Zero()
	info.Principal = sharemath.Zero()
	info.LastReportAt = now
	moves := []Move{{StrategyID: e.info.ID, Kind: MoveExit, Amount: recovered}}

	redeploy := sharemath.Min(target, recovered)
	if redeploy.IsZero() {
		return moves, nil
	}
	if err := a.execute(ctx, tx, e, redeploy, now); err != nil {
		return moves, err
	}
	return append(moves, Move{StrategyID: e.info.ID, Kind: MoveDeploy, Amount: redeploy}), nil
}

// fill tops an underweight strategy up toward its target, bounded by
// deployable idle and the risk gate's headroom.
func (a *Allocator) fill(ctx context.Context, tx *journal.Tx, e *entry, deployable *uint256.Int, now time.Time) (*Move, error) {
	target, err := sharemath.Bps(deployable, uint64(e.info.WeightBps))
	if err != nil {
		return nil, err
	}
	if !target.Gt(e.info.CurrentBalance) {
		return nil, nil
	}
	amount := new(uint256.Int).Sub(target, e.info.CurrentBalance)

	available, err := a.available()
	if err != nil {
		return nil, err
	}
	amount = sharemath.Min(amount, available)
	if a.policy != nil {
		state, op, err := a.deployOp(e, amount)
		if err != nil {
			return nil, err
		}
		headroom, err := a.policy.Headroom(state, op)
		if err != nil {
			return nil, err
		}
		amount = sharemath.Min(amount, headroom)
	}
	if amount.IsZero() {
		return nil, nil
	}
	if err := a.checkPaused(ctx, e); err != nil {
		return nil, err
	}
	if err := a.execute(ctx, tx, e, amount, now); err != nil {
		return nil, err
	}
	return &Move{StrategyID: e.info.ID, Kind: MoveDeploy, Amount: amount}, nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// sortByGap orders plans by gap descending, breaking ties by registration
// order.
func sortByGap(ps []*plan, gap func(*plan) *uint256.Int) {
	sort.SliceStable(ps, func(i, j int) bool {
		gi, gj := gap(ps[i]), gap(ps[j])
		if !gi.Eq(gj) {
			return gi.Gt(gj)
		}
		return ps[i].idx < ps[j].idx
	})
}

func ids(ps []*plan) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.e.info.ID)
	}
	return out
}

package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/lottery"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// Harvest collects yield from ids (all active strategies when empty), peels
// fees and credits the remainder to the current round. If the fee transfer
// fails the realized yield is committed as unsettled and the error is still
// returned.
func (v *Vault) Harvest(ctx context.Context, p domain.Principal, ids []string) (harvest.Report, error) {
	if err := p.Require(domain.CapKeeper); err != nil {
		return harvest.Report{}, err
	}
	var (
		report    harvest.Report
		unsettled error
	)
	err := v.run(ctx, "harvest", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		var err error
		report, err = v.harvester.Harvest(ctx, tx, ids, now)
		if errors.Is(err, harvest.ErrFeesUnsettled) {
			unsettled = err
			v.emit(tx, now, domain.EventHarvest, p.ID, func(e *domain.Event) {
				e.Amount = sharemath.Zero()
				e.Detail = map[string]string{
					"gross":     report.Gross.Dec(),
					"carried":   report.Carried.Dec(),
					"unsettled": report.Unsettled.Dec(),
					"error":     err.Error(),
				}
			})
			v.emitFailures(tx, now, p.ID, "harvest", report.Failed)
			return nil
		}
		if err != nil {
			return err
		}
		v.emit(tx, now, domain.EventHarvest, p.ID, func(e *domain.Event) {
			e.RoundID = report.RoundID
			e.Amount = report.Net.Clone()
			e.Detail = map[string]string{
				"gross":           report.Gross.Dec(),
				"carried":         report.Carried.Dec(),
				"management_fee":  report.ManagementFee.Dec(),
				"performance_fee": report.PerformanceFee.Dec(),
				"fees_paid":       report.FeesPaid.Dec(),
				"accrued_fees":    report.AccruedFees.Dec(),
			}
		})
		v.emitFailures(tx, now, p.ID, "harvest", report.Failed)
		return nil
	})
	if err != nil {
		return harvest.Report{}, err
	}
	return report, unsettled
}

// Rebalance moves capital toward target weights when any strategy has
// drifted past the configured threshold.
func (v *Vault) Rebalance(ctx context.Context, p domain.Principal) (allocator.RebalanceReport, error) {
	if err := p.Require(domain.CapKeeper); err != nil {
		return allocator.RebalanceReport{}, err
	}
	var report allocator.RebalanceReport
	err := v.run(ctx, "rebalance", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		var err error
		if report, err = v.alloc.Rebalance(ctx, tx, now); err != nil {
			return err
		}
		if !report.Triggered {
			return nil
		}
		moves := make([]string, 0, len(report.Moves))
		for _, m := range report.Moves {
			moves = append(moves, fmt.Sprintf("%s:%s:%s", m.StrategyID, m.Kind, m.Amount.Dec()))
		}
		v.emit(tx, now, domain.EventRebalance, p.ID, func(e *domain.Event) {
			e.Detail = map[string]string{
				"max_deviation_bps": strconv.FormatUint(report.MaxDeviationBps, 10),
				"reserve":           report.Reserve.Dec(),
				"moves":             strings.Join(moves, ","),
			}
		})
		v.emitFailures(tx, now, p.ID, "rebalance", report.Failed)
		return nil
	})
	return report, err
}

// Deploy moves amount of idle balance into strategy id.
func (v *Vault) Deploy(ctx context.Context, p domain.Principal, id string, amount *uint256.Int) error {
	if err := p.Require(domain.CapKeeper); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("vault: deploy: %w", domain.ErrZeroAmount)
	}
	return v.run(ctx, "deploy", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if err := v.alloc.Deploy(ctx, tx, id, amount, now); err != nil {
			return err
		}
		v.emit(tx, now, domain.EventDeploy, p.ID, func(e *domain.Event) {
			e.StrategyID = id
			e.Amount = amount.Clone()
		})
		return nil
	})
}

// Report refreshes strategy book balances from their adapters.
func (v *Vault) Report(ctx context.Context, p domain.Principal) (map[string]string, error) {
	if err := p.Require(domain.CapKeeper); err != nil {
		return nil, err
	}
	failed := make(map[string]string)
	err := v.run(ctx, "report", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		out := v.alloc.Report(ctx, tx, now)
		for _, r := range out.Failed() {
			failed[r.Key] = r.Err.Error()
		}
		v.emit(tx, now, domain.EventReport, p.ID, func(e *domain.Event) {
			e.Detail = map[string]string{
				"reported": strconv.Itoa(len(out.Succeeded())),
				"failed":   strconv.Itoa(len(failed)),
			}
		})
		v.emitFailures(tx, now, p.ID, "report", failed)
		return nil
	})
	return failed, err
}

// FinalizeRound draws requested winners for round id and opens the next
// round.
func (v *Vault) FinalizeRound(ctx context.Context, p domain.Principal, id uint64, requested int) (*domain.Round, error) {
	if err := p.Require(domain.CapKeeper); err != nil {
		return nil, err
	}
	var res lottery.Result
	err := v.run(ctx, "finalize_round", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		var err error
		if res, err = v.lottery.Finalize(ctx, tx, id, requested, now); err != nil {
			return err
		}
		r := res.Round
		winners := make([]string, 0, len(r.Winners))
		for _, w := range r.Winners {
			winners = append(winners, w.Hex())
		}
		v.emit(tx, now, domain.EventRoundFinalized, p.ID, func(e *domain.Event) {
			e.RoundID = r.ID
			e.Amount = r.TotalYield.Clone()
			e.Detail = map[string]string{
				"participants":     strconv.Itoa(len(r.Participants)),
				"winners":          strings.Join(winners, ","),
				"prize_per_winner": r.PrizePerWinner.Dec(),
				"remainder":        r.Remainder.Dec(),
				"seed":             r.Seed.Hex(),
			}
		})
		v.emitRoundOpened(tx, now, p.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res.Round.Clone(), nil
}

// FinalizeCurrent finalizes the current round if it has ended. It returns
// nil without error while the round is still open.
func (v *Vault) FinalizeCurrent(ctx context.Context, p domain.Principal, requested int) (*domain.Round, error) {
	v.mu.RLock()
	cur, err := v.lottery.Current()
	now := v.now()
	v.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if cur.Status(now) != domain.RoundClosed {
		return nil, nil
	}
	return v.FinalizeRound(ctx, p, cur.ID, requested)
}

func (v *Vault) emitFailures(tx *journal.Tx, now time.Time, actor, op string, failed map[string]string) {
	for _, id := range sortedKeys(failed) {
		reason := failed[id]
		v.emit(tx, now, domain.EventStrategyFailure, actor, func(e *domain.Event) {
			e.StrategyID = id
			e.Detail = map[string]string{"op": op, "error": reason}
		})
	}
}

package vault

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/lottery"
	"github.com/alanyoungcy/prizevault/internal/risk"
)

// RegisterStrategy adds a yield strategy with its adapter.
func (v *Vault) RegisterStrategy(ctx context.Context, p domain.Principal, reg allocator.Registration, adapter domain.Strategy) error {
	if err := p.Require(domain.CapStrategies); err != nil {
		return err
	}
	return v.run(ctx, "register_strategy", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if err := v.alloc.Register(ctx, tx, reg, adapter, now); err != nil {
			return err
		}
		v.emit(tx, now, domain.EventStrategyRegistered, p.ID, func(e *domain.Event) {
			e.StrategyID = reg.ID
			e.Detail = map[string]string{
				"kind":       reg.Kind,
				"weight_bps": strconv.FormatUint(uint64(reg.WeightBps), 10),
				"tier":       string(reg.Tier),
			}
		})
		return nil
	})
}

// UpdateWeight changes the target weight of strategy id.
func (v *Vault) UpdateWeight(ctx context.Context, p domain.Principal, id string, weightBps uint32) error {
	if err := p.Require(domain.CapStrategies); err != nil {
		return err
	}
	return v.run(ctx, "update_weight", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if err := v.alloc.UpdateWeight(ctx, tx, id, weightBps); err != nil {
			return err
		}
		v.emit(tx, now, domain.EventStrategyUpdated, p.ID, func(e *domain.Event) {
			e.StrategyID = id
			e.Detail = map[string]string{"weight_bps": strconv.FormatUint(uint64(weightBps), 10)}
		})
		return nil
	})
}

// RemoveStrategy unwinds strategy id, sweeps the proceeds to idle and
// retires it.
func (v *Vault) RemoveStrategy(ctx context.Context, p domain.Principal, id string) (*uint256.Int, error) {
	return v.exit(ctx, p, id, true)
}

// EmergencyExit unwinds strategy id and sweeps the proceeds to idle. The
// strategy stays registered with a zero balance.
func (v *Vault) EmergencyExit(ctx context.Context, p domain.Principal, id string) (*uint256.Int, error) {
	return v.exit(ctx, p, id, false)
}

func (v *Vault) exit(ctx context.Context, p domain.Principal, id string, remove bool) (*uint256.Int, error) {
	if err := p.Require(domain.CapStrategies); err != nil {
		return nil, err
	}
	op, kind := "emergency_exit", domain.EventEmergencyExit
	if remove {
		op, kind = "remove_strategy", domain.EventStrategyRemoved
	}
	var recovered *uint256.Int
	err := v.run(ctx, op, func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		var err error
		if recovered, err = v.alloc.Exit(ctx, tx, id, remove, now); err != nil {
			return err
		}
		v.emit(tx, now, kind, p.ID, func(e *domain.Event) {
			e.StrategyID = id
			e.Amount = recovered.Clone()
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// Pause disables deposits. Withdrawals and claims stay open.
func (v *Vault) Pause(ctx context.Context, p domain.Principal) error {
	return v.setDeposits(ctx, p, false)
}

// Unpause re-enables deposits.
func (v *Vault) Unpause(ctx context.Context, p domain.Principal) error {
	return v.setDeposits(ctx, p, true)
}

func (v *Vault) setDeposits(ctx context.Context, p domain.Principal, enabled bool) error {
	if err := p.Require(domain.CapPause); err != nil {
		return err
	}
	kind := domain.EventPaused
	if enabled {
		kind = domain.EventUnpaused
	}
	return v.run(ctx, string(kind), func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		v.ledger.SetDepositsEnabled(tx, enabled)
		v.emit(tx, now, kind, p.ID, nil)
		return nil
	})
}

// SetFees replaces the fee configuration.
func (v *Vault) SetFees(ctx context.Context, p domain.Principal, cfg harvest.FeeConfig) error {
	if err := p.Require(domain.CapFees); err != nil {
		return err
	}
	return v.configure(ctx, p, "fees", func(tx *journal.Tx) (map[string]string, error) {
		if err := v.harvester.SetConfig(tx, cfg); err != nil {
			return nil, err
		}
		return map[string]string{
			"management_bps":  strconv.FormatUint(uint64(cfg.ManagementBps), 10),
			"performance_bps": strconv.FormatUint(uint64(cfg.PerformanceBps), 10),
			"recipient":       cfg.Recipient.Hex(),
		}, nil
	})
}

// SetRiskLimits replaces the risk limits.
func (v *Vault) SetRiskLimits(ctx context.Context, p domain.Principal, limits risk.Limits) error {
	if err := p.Require(domain.CapRisk); err != nil {
		return err
	}
	return v.configure(ctx, p, "risk", func(tx *journal.Tx) (map[string]string, error) {
		if err := v.gate.SetLimits(tx, limits); err != nil {
			return nil, err
		}
		detail := map[string]string{
			"max_allocation_bps": strconv.FormatUint(uint64(limits.MaxAllocationBps), 10),
			"max_drawdown_bps":   strconv.FormatUint(uint64(limits.MaxDrawdownBps), 10),
			"max_withdrawal_bps": strconv.FormatUint(uint64(limits.MaxWithdrawalBps), 10),
		}
		if limits.MaxTotalAssets != nil {
			detail["max_total_assets"] = limits.MaxTotalAssets.Dec()
		}
		return detail, nil
	})
}

// SetWithdrawalDelay changes the request-to-withdraw delay. Pending requests
// are measured against the new delay.
func (v *Vault) SetWithdrawalDelay(ctx context.Context, p domain.Principal, delay time.Duration) error {
	if err := p.Require(domain.CapRisk); err != nil {
		return err
	}
	return v.configure(ctx, p, "withdrawal", func(tx *journal.Tx) (map[string]string, error) {
		if err := v.withdrawals.SetDelay(tx, delay); err != nil {
			return nil, err
		}
		return map[string]string{"delay": delay.String()}, nil
	})
}

// SetAllocatorConfig changes the rebalance threshold.
func (v *Vault) SetAllocatorConfig(ctx context.Context, p domain.Principal, cfg allocator.Config) error {
	if err := p.Require(domain.CapStrategies); err != nil {
		return err
	}
	return v.configure(ctx, p, "allocator", func(tx *journal.Tx) (map[string]string, error) {
		if err := v.alloc.SetConfig(tx, cfg); err != nil {
			return nil, err
		}
		return map[string]string{"rebalance_threshold_bps": strconv.FormatUint(uint64(cfg.RebalanceThresholdBps), 10)}, nil
	})
}

// SetLotteryConfig changes round duration and winner bounds. The running
// round keeps its end time.
func (v *Vault) SetLotteryConfig(ctx context.Context, p domain.Principal, cfg lottery.Config) error {
	if err := p.Require(domain.CapKeeper); err != nil {
		return err
	}
	return v.configure(ctx, p, "lottery", func(tx *journal.Tx) (map[string]string, error) {
		if err := v.lottery.SetConfig(tx, cfg); err != nil {
			return nil, err
		}
		return map[string]string{
			"round_duration": cfg.RoundDuration.String(),
			"min_winners":    strconv.Itoa(cfg.MinWinners),
			"max_winners":    strconv.Itoa(cfg.MaxWinners),
		}, nil
	})
}

// SetAsset adds or updates a deposit asset.
func (v *Vault) SetAsset(ctx context.Context, p domain.Principal, info *domain.AssetInfo) error {
	if err := p.Require(domain.CapAssets); err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("vault: set asset: %w", domain.ErrUnsupportedAsset)
	}
	return v.run(ctx, "set_asset", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if err := v.assets.Upsert(tx, info); err != nil {
			return err
		}
		v.emit(tx, now, domain.EventConfigUpdated, p.ID, func(e *domain.Event) {
			e.Asset = info.Symbol
			e.Detail = map[string]string{
				"section":    "assets",
				"supported":  strconv.FormatBool(info.Supported),
				"conversion": string(info.Conversion),
			}
		})
		return nil
	})
}

func (v *Vault) configure(ctx context.Context, p domain.Principal, section string, apply func(tx *journal.Tx) (map[string]string, error)) error {
	return v.run(ctx, "configure_"+section, func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		detail, err := apply(tx)
		if err != nil {
			return err
		}
		detail["section"] = section
		v.emit(tx, now, domain.EventConfigUpdated, p.ID, func(e *domain.Event) {
			e.Detail = detail
		})
		return nil
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package allocator owns the registered yield strategies: their target
// weights, book balances and adapter handles. It moves capital between the
// vault's idle balance and strategies, isolating adapter failures so that one
// misbehaving strategy never aborts a pass over the others.
package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/batch"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/risk"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// Treasury is the ledger surface the allocator moves capital through.
type Treasury interface {
	TotalAssets() (*uint256.Int, error)
	PendingWithdrawals() (*uint256.Int, error)
	State() *domain.VaultState
	CreditIdle(tx *journal.Tx, amount *uint256.Int) error
	DebitIdle(tx *journal.Tx, amount *uint256.Int) error
}

// Policy is the risk surface consulted before deployments and weight changes.
type Policy interface {
	Check(ctx context.Context, state risk.State, op risk.Op) error
	Headroom(state risk.State, op risk.Op) (*uint256.Int, error)
}

// Config holds allocator tuning.
type Config struct {
	// RebalanceThresholdBps is the deviation between actual and target
	// allocation that triggers a rebalance pass.
	RebalanceThresholdBps uint32 `json:"rebalance_threshold_bps"`
}

type entry struct {
	info    *domain.StrategyInfo
	adapter domain.Strategy
}

// Allocator is not safe for concurrent use; the vault serializes access.
type Allocator struct {
	entries  map[string]*entry
	order    []string
	treasury Treasury
	policy   Policy
	cfg      Config
	logger   *slog.Logger
}

// New creates an empty allocator.
func New(treasury Treasury, policy Policy, cfg Config, logger *slog.Logger) *Allocator {
	return &Allocator{
		entries:  make(map[string]*entry),
		treasury: treasury,
		policy:   policy,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "allocator")),
	}
}

// Restore loads persisted strategy records. Adapters are attached separately.
func (a *Allocator) Restore(infos []*domain.StrategyInfo) {
	a.entries = make(map[string]*entry, len(infos))
	a.order = a.order[:0]
	for _, s := range infos {
		info := s.Clone()
		if info.Principal == nil {
			info.Principal = info.CurrentBalance.Clone()
		}
		a.entries[s.ID] = &entry{info: info}
		a.order = append(a.order, s.ID)
	}
}

// Attach binds an adapter to a restored strategy record.
func (a *Allocator) Attach(id string, adapter domain.Strategy) error {
	e, ok := a.entries[id]
	if !ok {
		return fmt.Errorf("allocator: attach %q: %w", id, domain.ErrNotFound)
	}
	e.adapter = adapter
	return nil
}

// Config returns the current tuning.
func (a *Allocator) Config() Config { return a.cfg }

// SetConfig replaces the tuning.
func (a *Allocator) SetConfig(tx *journal.Tx, cfg Config) error {
	if cfg.RebalanceThresholdBps > sharemath.BpsDenominator {
		return fmt.Errorf("allocator: threshold %d: %w", cfg.RebalanceThresholdBps, domain.ErrInvalidWeight)
	}
	prev := a.cfg
	a.cfg = cfg
	tx.OnRollback(func() { a.cfg = prev })
	return nil
}

// Strategy returns a copy of one strategy record.
func (a *Allocator) Strategy(id string) (*domain.StrategyInfo, error) {
	e, ok := a.entries[id]
	if !ok {
		return nil, fmt.Errorf("allocator: strategy %q: %w", id, domain.ErrNotFound)
	}
	return e.info.Clone(), nil
}

// Strategies returns copies of every record in registration order.
func (a *Allocator) Strategies() []*domain.StrategyInfo {
	out := make([]*domain.StrategyInfo, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.entries[id].info.Clone())
	}
	return out
}

// ActiveIDs lists active strategies in registration order.
func (a *Allocator) ActiveIDs() []string {
	var out []string
	for _, id := range a.order {
		if a.entries[id].info.Active {
			out = append(out, id)
		}
	}
	return out
}

// WeightSum totals the weights of active strategies.
func (a *Allocator) WeightSum() uint64 {
	var sum uint64
	for _, id := range a.order {
		if e := a.entries[id]; e.info.Active {
			sum += uint64(e.info.WeightBps)
		}
	}
	return sum
}

// Deployed sums the book balance of every active strategy.
func (a *Allocator) Deployed() (*uint256.Int, error) {
	total := sharemath.Zero()
	for _, id := range a.order {
		e := a.entries[id]
		if !e.info.Active {
			continue
		}
		var err error
		if total, err = sharemath.Add(total, e.info.CurrentBalance); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// Registration describes a new strategy.
type Registration struct {
	ID        string
	Kind      string
	WeightBps uint32
	Tier      domain.RiskTier
}

// Register adds a strategy. The active weight sum must stay within 10000 bps.
func (a *Allocator) Register(ctx context.Context, tx *journal.Tx, reg Registration, adapter domain.Strategy, now time.Time) error {
	if reg.ID == "" {
		return fmt.Errorf("allocator: register: empty id: %w", domain.ErrInvalidWeight)
	}
	if adapter == nil {
		return fmt.Errorf("allocator: register %q: nil adapter: %w", reg.ID, domain.ErrCollaborator)
	}
	if _, ok := a.entries[reg.ID]; ok {
		return fmt.Errorf("allocator: register %q: %w", reg.ID, domain.ErrAlreadyExists)
	}
	if reg.Tier == "" {
		reg.Tier = domain.RiskTierLow
	}
	if !reg.Tier.Valid() {
		return fmt.Errorf("allocator: register %q: risk tier %q: %w", reg.ID, reg.Tier, domain.ErrInvalidWeight)
	}
	if err := a.checkWeight(ctx, reg.ID, reg.Tier, reg.WeightBps, 0); err != nil {
		return err
	}

	e := &entry{
		info: &domain.StrategyInfo{
			ID:             reg.ID,
			Kind:           reg.Kind,
			WeightBps:      reg.WeightBps,
			CurrentBalance: sharemath.Zero(),
			Principal:      sharemath.Zero(),
			RiskTier:       reg.Tier,
			Active:         true,
			RegisteredAt:   now,
		},
		adapter: adapter,
	}
	a.entries[reg.ID] = e
	a.order = append(a.order, reg.ID)
	tx.OnRollback(func() {
		delete(a.entries, reg.ID)
		a.order = a.order[:len(a.order)-1]
	})
	tx.TouchStrategy(e.info)

	a.logger.InfoContext(ctx, "strategy registered",
		slog.String("strategy", reg.ID),
		slog.String("kind", reg.Kind),
		slog.Int("weight_bps", int(reg.WeightBps)),
		slog.String("tier", string(reg.Tier)),
	)
	return nil
}

// UpdateWeight changes an active strategy's target weight.
func (a *Allocator) UpdateWeight(ctx context.Context, tx *journal.Tx, id string, weight uint32) error {
	e, err := a.active(id)
	if err != nil {
		return fmt.Errorf("allocator: update weight: %w", err)
	}
	if err := a.checkWeight(ctx, id, e.info.RiskTier, weight, uint64(e.info.WeightBps)); err != nil {
		return err
	}
	info := a.forWrite(tx, e)
	info.WeightBps = weight
	return nil
}

func (a *Allocator) checkWeight(ctx context.Context, id string, tier domain.RiskTier, weight uint32, current uint64) error {
	if weight > sharemath.BpsDenominator {
		return fmt.Errorf("allocator: %q weight %d: %w", id, weight, domain.ErrInvalidWeight)
	}
	if a.WeightSum()-current+uint64(weight) > domain.MaxWeightBps {
		return fmt.Errorf("allocator: %q weight %d: %w", id, weight, domain.ErrWeightOverflow)
	}
	if a.policy != nil {
		if err := a.policy.Check(ctx, risk.State{}, risk.Op{Kind: risk.OpAllocate, StrategyID: id, Tier: tier, WeightBps: weight}); err != nil {
			return fmt.Errorf("allocator: %q: %w", id, err)
		}
	}
	return nil
}

// Deploy moves amount of idle balance into a strategy. Idle reserved for
// pending withdrawals is not deployable.
func (a *Allocator) Deploy(ctx context.Context, tx *journal.Tx, id string, amount *uint256.Int, now time.Time) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("allocator: deploy: %w", domain.ErrZeroAmount)
	}
	e, err := a.active(id)
	if err != nil {
		return fmt.Errorf("allocator: deploy: %w", err)
	}
	if err := a.checkPaused(ctx, e); err != nil {
		return fmt.Errorf("allocator: deploy: %w", err)
	}
	available, err := a.available()
	if err != nil {
		return fmt.Errorf("allocator: deploy: %w", err)
	}
	if amount.Gt(available) {
		return fmt.Errorf("allocator: deploy %s to %q, %s available: %w", amount.Dec(), id, available.Dec(), domain.ErrInsufficientIdleBalance)
	}
	state, op, err := a.deployOp(e, amount)
	if err != nil {
		return fmt.Errorf("allocator: deploy: %w", err)
	}
	if a.policy != nil {
		if err := a.policy.Check(ctx, state, op); err != nil {
			return fmt.Errorf("allocator: deploy: %w", err)
		}
	}
	return a.execute(ctx, tx, e, amount, now)
}

// execute hands amount to the adapter and books it only once the adapter
// accepted it, so a failed call leaves no bookkeeping behind.
func (a *Allocator) execute(ctx context.Context, tx *journal.Tx, e *entry, amount *uint256.Int, now time.Time) error {
	_, err := batch.Call(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.adapter.Execute(ctx, amount)
	})
	if err != nil {
		return fmt.Errorf("allocator: execute %q: %v: %w", e.info.ID, err, domain.ErrCollaborator)
	}
	if err := a.treasury.DebitIdle(tx, amount); err != nil {
		return err
	}
	info := a.forWrite(tx, e)
	balance, err := sharemath.Add(info.CurrentBalance, amount)
	if err != nil {
		return err
	}
	principal, err := sharemath.Add(info.Principal, amount)
	if err != nil {
		return err
	}
	info.CurrentBalance = balance
	info.Principal = principal
	info.LastReportAt = now
	info.LastError = ""
	return nil
}

// Exit unwinds a strategy completely and sweeps what was recovered to idle.
// The adapter call is a hard dependency. When deactivate is set the strategy
// is also retired with weight zero.
func (a *Allocator) Exit(ctx context.Context, tx *journal.Tx, id string, deactivate bool, now time.Time) (*uint256.Int, error) {
	e, err := a.active(id)
	if err != nil {
		return nil, fmt.Errorf("allocator: exit: %w", err)
	}
	recovered, err := batch.Call(ctx, e.adapter.EmergencyExit)
	if err != nil {
		return nil, fmt.Errorf("allocator: emergency exit %q: %v: %w", id, err, domain.ErrCollaborator)
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
	info.LastError = ""
	if deactivate {
		info.Active = false
		info.WeightBps = 0
	}
	a.logger.InfoContext(ctx, "strategy exited",
		slog.String("strategy", id),
		slog.String("recovered", recovered.Dec()),
		slog.Bool("deactivated", deactivate),
	)
	return recovered, nil
}

// Report refreshes the book balance of every active strategy, capped at its
// principal: losses lower the share price at once while gains wait for a
// harvest to move them to the prize pool. Failures leave that strategy's
// balance stale.
func (a *Allocator) Report(ctx context.Context, tx *journal.Tx, now time.Time) batch.Outcome[string, *uint256.Int] {
	out := batch.BestEffort(ctx, a.logger, "report", a.ActiveIDs(),
		func(ctx context.Context, id string) (*uint256.Int, error) {
			e := a.entries[id]
			if e.adapter == nil {
				return nil, fmt.Errorf("no adapter attached: %w", domain.ErrCollaborator)
			}
			bal, err := e.adapter.Balance(ctx)
			if err != nil {
				return nil, err
			}
			if bal == nil {
				return nil, fmt.Errorf("nil balance: %w", domain.ErrCollaborator)
			}
			return bal, nil
		})
	for _, r := range out.Results {
		info := a.forWrite(tx, a.entries[r.Key])
		if r.Err != nil {
			info.LastError = r.Err.Error()
			continue
		}
		info.CurrentBalance = sharemath.Min(r.Value, info.Principal)
		info.LastReportAt = now
		info.LastError = ""
	}
	return out
}

// Harvest calls Harvest on each listed strategy, or every active one when
// ids is empty. Unknown and inactive IDs are reported as failures. Book
// balances are left alone: they never include unharvested gains.
func (a *Allocator) Harvest(ctx context.Context, tx *journal.Tx, ids []string, now time.Time) batch.Outcome[string, *uint256.Int] {
	if len(ids) == 0 {
		ids = a.ActiveIDs()
	}
	out := batch.BestEffort(ctx, a.logger, "harvest", ids,
		func(ctx context.Context, id string) (*uint256.Int, error) {
			e, err := a.active(id)
			if err != nil {
				return nil, err
			}
			if e.adapter == nil {
				return nil, fmt.Errorf("no adapter attached: %w", domain.ErrCollaborator)
			}
			y, err := e.adapter.Harvest(ctx)
			if err != nil {
				return nil, err
			}
			if y == nil {
				y = sharemath.Zero()
			}
			return y, nil
		})
	for _, r := range out.Results {
		e, ok := a.entries[r.Key]
		if !ok {
			continue
		}
		info := a.forWrite(tx, e)
		if r.Err != nil {
			info.LastError = r.Err.Error()
			continue
		}
		info.LastReportAt = now
		info.LastError = ""
	}
	return out
}

func (a *Allocator) active(id string) (*entry, error) {
	e, ok := a.entries[id]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	if !e.info.Active {
		return nil, fmt.Errorf("strategy %q: %w", id, domain.ErrStrategyInactive)
	}
	if e.adapter == nil {
		return nil, fmt.Errorf("strategy %q: no adapter attached: %w", id, domain.ErrCollaborator)
	}
	return e, nil
}

func (a *Allocator) checkPaused(ctx context.Context, e *entry) error {
	paused, err := batch.Call(ctx, e.adapter.Paused)
	if err != nil {
		return fmt.Errorf("strategy %q paused check: %v: %w", e.info.ID, err, domain.ErrCollaborator)
	}
	if paused {
		return fmt.Errorf("strategy %q: %w", e.info.ID, domain.ErrStrategyPaused)
	}
	return nil
}

// available is idle balance minus the pending-withdrawal reserve.
func (a *Allocator) available() (*uint256.Int, error) {
	reserve, err := a.treasury.PendingWithdrawals()
	if err != nil {
		return nil, err
	}
	return sharemath.SubFloor(a.treasury.State().IdleBalance, reserve), nil
}

func (a *Allocator) tierBalance(tier domain.RiskTier) (*uint256.Int, error) {
	total := sharemath.Zero()
	for _, id := range a.order {
		e := a.entries[id]
		if !e.info.Active || e.info.RiskTier != tier {
			continue
		}
		var err error
		if total, err = sharemath.Add(total, e.info.CurrentBalance); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (a *Allocator) deployOp(e *entry, amount *uint256.Int) (risk.State, risk.Op, error) {
	total, err := a.treasury.TotalAssets()
	if err != nil {
		return risk.State{}, risk.Op{}, err
	}
	tierBal, err := a.tierBalance(e.info.RiskTier)
	if err != nil {
		return risk.State{}, risk.Op{}, err
	}
	st := a.treasury.State()
	return risk.State{TotalAssets: total, TotalShares: st.TotalShares, SharePriceHigh: st.SharePriceHigh},
		risk.Op{
			Kind:            risk.OpDeploy,
			Amount:          amount,
			StrategyID:      e.info.ID,
			Tier:            e.info.RiskTier,
			StrategyBalance: e.info.CurrentBalance.Clone(),
			TierBalance:     tierBal,
			WeightBps:       e.info.WeightBps,
		}, nil
}

// forWrite journals the prior value of e's record and returns it for
// mutation.
func (a *Allocator) forWrite(tx *journal.Tx, e *entry) *domain.StrategyInfo {
	saved := e.info.Clone()
	info := e.info
	tx.OnRollback(func() { *info = *saved })
	tx.TouchStrategy(info)
	return info
}

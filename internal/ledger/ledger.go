// Package ledger owns share and asset bookkeeping: the aggregate VaultState
// and every participant Position. All economic mutations pass through it and
// register their inverse with the caller's journal.
package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// DeployedFunc reports the capital currently held by active strategies.
type DeployedFunc func() (*uint256.Int, error)

// Ledger is not safe for concurrent use; the vault serializes access.
type Ledger struct {
	state     *domain.VaultState
	positions map[common.Address]*domain.Position
	order     []common.Address
	deployed  DeployedFunc
}

// New returns a ledger with a zeroed state.
func New(now time.Time, deployed DeployedFunc) *Ledger {
	return &Ledger{
		state:     domain.NewVaultState(now),
		positions: make(map[common.Address]*domain.Position),
		deployed:  deployed,
	}
}

// Restore replaces the ledger contents with persisted state.
func (l *Ledger) Restore(state *domain.VaultState, positions []*domain.Position) {
	l.state = state.Clone()
	if l.state.UnsettledYield == nil {
		l.state.UnsettledYield = sharemath.Zero()
	}
	l.positions = make(map[common.Address]*domain.Position, len(positions))
	l.order = l.order[:0]
	for _, p := range positions {
		l.positions[p.Owner] = p.Clone()
		l.order = append(l.order, p.Owner)
	}
}

// State returns a copy of the aggregate state.
func (l *Ledger) State() *domain.VaultState { return l.state.Clone() }

// Position returns a copy of owner's position.
func (l *Ledger) Position(owner common.Address) (*domain.Position, error) {
	p, ok := l.positions[owner]
	if !ok {
		return nil, fmt.Errorf("ledger: position %s: %w", owner.Hex(), domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// Positions returns copies of every position in first-deposit order.
func (l *Ledger) Positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.order))
	for _, a := range l.order {
		out = append(out, l.positions[a].Clone())
	}
	return out
}

// TotalAssets is idle balance plus everything deployed to active strategies.
func (l *Ledger) TotalAssets() (*uint256.Int, error) {
	deployed := sharemath.Zero()
	if l.deployed != nil {
		d, err := l.deployed()
		if err != nil {
			return nil, fmt.Errorf("ledger: deployed: %w", err)
		}
		deployed = d
	}
	return sharemath.Add(l.state.IdleBalance, deployed)
}

// Totals summarizes the economic state for events and views.
func (l *Ledger) Totals() (domain.Totals, error) {
	total, err := l.TotalAssets()
	if err != nil {
		return domain.Totals{}, err
	}
	return domain.Totals{
		TotalAssets: total,
		TotalShares: l.state.TotalShares.Clone(),
		IdleBalance: l.state.IdleBalance.Clone(),
		Deployed:    sharemath.SubFloor(total, l.state.IdleBalance),
		PrizePool:   l.state.PrizePool.Clone(),
		AccruedFees: l.state.AccruedFees.Clone(),
	}, nil
}

// SharePrice returns total assets per share scaled by 1e18.
func (l *Ledger) SharePrice() (*uint256.Int, error) {
	total, err := l.TotalAssets()
	if err != nil {
		return nil, err
	}
	return sharemath.SharePrice(total, l.state.TotalShares)
}

// ConvertToShares returns the shares assets would mint, rounded down.
func (l *Ledger) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	total, err := l.TotalAssets()
	if err != nil {
		return nil, err
	}
	return sharemath.ToShares(assets, l.state.TotalShares, total)
}

// ConvertToAssets returns the assets shares redeem for, rounded down.
func (l *Ledger) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	total, err := l.TotalAssets()
	if err != nil {
		return nil, err
	}
	return sharemath.ToAssets(shares, l.state.TotalShares, total)
}

// PreviewWithdraw returns the shares burned to release assets, rounded up.
func (l *Ledger) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	total, err := l.TotalAssets()
	if err != nil {
		return nil, err
	}
	return sharemath.ToSharesUp(assets, l.state.TotalShares, total)
}

// Mint credits assets to idle and issues shares to owner, creating the
// position on first deposit.
func (l *Ledger) Mint(tx *journal.Tx, owner common.Address, assets *uint256.Int, now time.Time) (*uint256.Int, error) {
	if assets.IsZero() {
		return nil, fmt.Errorf("ledger: mint: %w", domain.ErrZeroAmount)
	}
	shares, err := l.ConvertToShares(assets)
	if err != nil {
		return nil, fmt.Errorf("ledger: mint: %w", err)
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("ledger: mint %s: %w", assets.Dec(), domain.ErrZeroShares)
	}

	next := l.state.Clone()
	if next.TotalShares, err = sharemath.Add(next.TotalShares, shares); err != nil {
		return nil, err
	}
	if next.IdleBalance, err = sharemath.Add(next.IdleBalance, assets); err != nil {
		return nil, err
	}
	if next.TotalPrincipal, err = sharemath.Add(next.TotalPrincipal, assets); err != nil {
		return nil, err
	}

	pos := l.positionForWrite(tx, owner)
	newShares, err := sharemath.Add(pos.Shares, shares)
	if err != nil {
		return nil, err
	}
	newPrincipal, err := sharemath.Add(pos.Principal, assets)
	if err != nil {
		return nil, err
	}
	pos.Shares = newShares
	pos.Principal = newPrincipal
	pos.LastDepositAt = now

	l.setState(tx, next)
	return shares, nil
}

// Burn removes the shares backing assets from owner and debits idle. The
// shares burned round up.
func (l *Ledger) Burn(tx *journal.Tx, owner common.Address, assets *uint256.Int) (*uint256.Int, error) {
	pos, ok := l.positions[owner]
	if !ok {
		return nil, fmt.Errorf("ledger: burn: position %s: %w", owner.Hex(), domain.ErrNotFound)
	}
	shares, err := l.PreviewWithdraw(assets)
	if err != nil {
		return nil, fmt.Errorf("ledger: burn: %w", err)
	}
	if shares.Gt(pos.Shares) {
		return nil, fmt.Errorf("ledger: burn %s shares, hold %s: %w", shares.Dec(), pos.Shares.Dec(), domain.ErrInsufficientShares)
	}
	if assets.Gt(l.state.IdleBalance) {
		return nil, fmt.Errorf("ledger: burn: need %s idle, have %s: %w", assets.Dec(), l.state.IdleBalance.Dec(), domain.ErrInsufficientIdleBalance)
	}

	next := l.state.Clone()
	if next.TotalShares, err = sharemath.Sub(next.TotalShares, shares); err != nil {
		return nil, err
	}
	if next.IdleBalance, err = sharemath.Sub(next.IdleBalance, assets); err != nil {
		return nil, err
	}
	principalOut := sharemath.Min(pos.Principal, assets)
	next.TotalPrincipal = sharemath.SubFloor(next.TotalPrincipal, principalOut)

	pos = l.positionForWrite(tx, owner)
	pos.Shares = new(uint256.Int).Sub(pos.Shares, shares)
	pos.Principal = new(uint256.Int).Sub(pos.Principal, principalOut)

	l.setState(tx, next)
	return shares, nil
}

// RecordRound appends roundID to owner's participation history.
func (l *Ledger) RecordRound(tx *journal.Tx, owner common.Address, roundID uint64) {
	pos := l.positionForWrite(tx, owner)
	pos.Rounds = append(pos.Rounds, roundID)
}

// SetWithdrawalRequest stamps a pending withdrawal on owner's position.
func (l *Ledger) SetWithdrawalRequest(tx *journal.Tx, owner common.Address, amount *uint256.Int, at time.Time) error {
	if _, ok := l.positions[owner]; !ok {
		return fmt.Errorf("ledger: request withdrawal: %w", domain.ErrNotFound)
	}
	pos := l.positionForWrite(tx, owner)
	pos.WithdrawalPending = true
	pos.WithdrawalAmount = amount.Clone()
	pos.WithdrawalRequestedAt = at
	return nil
}

// ClearWithdrawalRequest resets owner's pending withdrawal.
func (l *Ledger) ClearWithdrawalRequest(tx *journal.Tx, owner common.Address) {
	if _, ok := l.positions[owner]; !ok {
		return
	}
	pos := l.positionForWrite(tx, owner)
	pos.WithdrawalPending = false
	pos.WithdrawalAmount = sharemath.Zero()
	pos.WithdrawalRequestedAt = time.Time{}
}

// PendingWithdrawals sums every outstanding withdrawal request.
func (l *Ledger) PendingWithdrawals() (*uint256.Int, error) {
	total := sharemath.Zero()
	for _, a := range l.order {
		p := l.positions[a]
		if !p.WithdrawalPending {
			continue
		}
		var err error
		if total, err = sharemath.Add(total, p.WithdrawalAmount); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// CreditIdle adds amount to the idle balance.
func (l *Ledger) CreditIdle(tx *journal.Tx, amount *uint256.Int) error {
	next := l.state.Clone()
	var err error
	if next.IdleBalance, err = sharemath.Add(next.IdleBalance, amount); err != nil {
		return fmt.Errorf("ledger: credit idle: %w", err)
	}
	l.setState(tx, next)
	return nil
}

// DebitIdle removes amount from the idle balance.
func (l *Ledger) DebitIdle(tx *journal.Tx, amount *uint256.Int) error {
	if amount.Gt(l.state.IdleBalance) {
		return fmt.Errorf("ledger: debit idle %s of %s: %w", amount.Dec(), l.state.IdleBalance.Dec(), domain.ErrInsufficientIdleBalance)
	}
	next := l.state.Clone()
	next.IdleBalance = new(uint256.Int).Sub(next.IdleBalance, amount)
	l.setState(tx, next)
	return nil
}

// Distribution is the bookkeeping outcome of one harvest.
type Distribution struct {
	Gross       *uint256.Int
	FeesPaid    *uint256.Int
	Net         *uint256.Int
	AccruedFees *uint256.Int
	CollectedAt time.Time
}

// ApplyHarvest moves harvested yield out of idle: fees leave the vault and
// the net amount moves to the prize pool. Gross must already be in idle and
// includes any unsettled yield, which is cleared.
func (l *Ledger) ApplyHarvest(tx *journal.Tx, d Distribution) error {
	out, err := sharemath.Add(d.FeesPaid, d.Net)
	if err != nil {
		return fmt.Errorf("ledger: apply harvest: %w", err)
	}
	if !out.Eq(d.Gross) {
		return fmt.Errorf("ledger: apply harvest: fees %s + net %s != gross %s: %w",
			d.FeesPaid.Dec(), d.Net.Dec(), d.Gross.Dec(), domain.ErrInvariant)
	}
	next := l.state.Clone()
	if next.IdleBalance, err = sharemath.Sub(next.IdleBalance, out); err != nil {
		return fmt.Errorf("ledger: apply harvest: %w", err)
	}
	if next.PrizePool, err = sharemath.Add(next.PrizePool, d.Net); err != nil {
		return err
	}
	if next.FeesPaid, err = sharemath.Add(next.FeesPaid, d.FeesPaid); err != nil {
		return err
	}
	if next.TotalYieldGenerated, err = sharemath.Add(next.TotalYieldGenerated, d.Net); err != nil {
		return err
	}
	next.AccruedFees = d.AccruedFees.Clone()
	next.UnsettledYield = sharemath.Zero()
	next.LastFeeCollection = d.CollectedAt
	l.setState(tx, next)
	return nil
}

// HoldUnsettled records yield that left the strategies but could not be
// distributed. It replaces any earlier unsettled amount.
func (l *Ledger) HoldUnsettled(tx *journal.Tx, amount *uint256.Int) {
	next := l.state.Clone()
	next.UnsettledYield = amount.Clone()
	l.setState(tx, next)
}

// PayPrize debits the prize pool and records the win on owner's position.
func (l *Ledger) PayPrize(tx *journal.Tx, owner common.Address, amount *uint256.Int) error {
	if amount.Gt(l.state.PrizePool) {
		return fmt.Errorf("ledger: pay prize %s from pool %s: %w", amount.Dec(), l.state.PrizePool.Dec(), domain.ErrInvariant)
	}
	next := l.state.Clone()
	next.PrizePool = new(uint256.Int).Sub(next.PrizePool, amount)

	pos := l.positionForWrite(tx, owner)
	won, err := sharemath.Add(pos.PrizesWon, amount)
	if err != nil {
		return err
	}
	pos.PrizesWon = won
	l.setState(tx, next)
	return nil
}

// SetDepositsEnabled toggles the global deposit switch.
func (l *Ledger) SetDepositsEnabled(tx *journal.Tx, enabled bool) {
	next := l.state.Clone()
	next.DepositsEnabled = enabled
	l.setState(tx, next)
}

// ObserveSharePrice raises the high-water mark if the current price exceeds
// it. It reports whether the mark moved.
func (l *Ledger) ObserveSharePrice(tx *journal.Tx) (bool, error) {
	if l.state.TotalShares.IsZero() {
		return false, nil
	}
	price, err := l.SharePrice()
	if err != nil {
		return false, err
	}
	if !price.Gt(l.state.SharePriceHigh) {
		return false, nil
	}
	next := l.state.Clone()
	next.SharePriceHigh = price
	l.setState(tx, next)
	return true, nil
}

func (l *Ledger) setState(tx *journal.Tx, next *domain.VaultState) {
	prev := l.state
	l.state = next
	tx.OnRollback(func() { l.state = prev })
	tx.TouchVault()
}

// positionForWrite returns the live position for owner, creating it if
// needed, and journals its prior value.
func (l *Ledger) positionForWrite(tx *journal.Tx, owner common.Address) *domain.Position {
	pos, ok := l.positions[owner]
	if !ok {
		pos = domain.NewPosition(owner)
		l.positions[owner] = pos
		l.order = append(l.order, owner)
		tx.OnRollback(func() {
			delete(l.positions, owner)
			l.order = l.order[:len(l.order)-1]
		})
	} else {
		saved := pos.Clone()
		tx.OnRollback(func() { *pos = *saved })
	}
	tx.TouchPosition(pos)
	return pos
}

// Package withdrawal enforces the request, delay, execute protocol that
// separates withdrawal intent from execution.
package withdrawal

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
)

// Positions is the ledger surface that stores request flags.
type Positions interface {
	Position(owner common.Address) (*domain.Position, error)
	ConvertToAssets(shares *uint256.Int) (*uint256.Int, error)
	SetWithdrawalRequest(tx *journal.Tx, owner common.Address, amount *uint256.Int, at time.Time) error
	ClearWithdrawalRequest(tx *journal.Tx, owner common.Address)
}

// Gate holds the delay policy. Request state lives on the position.
type Gate struct {
	delay     time.Duration
	positions Positions
}

// New returns a gate enforcing delay.
func New(delay time.Duration, positions Positions) *Gate {
	return &Gate{delay: delay, positions: positions}
}

// Delay returns the configured delay.
func (g *Gate) Delay() time.Duration { return g.delay }

// SetDelay replaces the delay. Pending requests are measured against the new
// value.
func (g *Gate) SetDelay(tx *journal.Tx, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("withdrawal: negative delay %s", d)
	}
	prev := g.delay
	g.delay = d
	tx.OnRollback(func() { g.delay = prev })
	return nil
}

// Request stamps a pending withdrawal of amount for owner. A new request
// replaces an earlier one and restarts the timer.
func (g *Gate) Request(tx *journal.Tx, owner common.Address, amount *uint256.Int, now time.Time) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("withdrawal: request: %w", domain.ErrZeroAmount)
	}
	pos, err := g.positions.Position(owner)
	if err != nil {
		return fmt.Errorf("withdrawal: request: %w", err)
	}
	redeemable, err := g.positions.ConvertToAssets(pos.Shares)
	if err != nil {
		return fmt.Errorf("withdrawal: request: %w", err)
	}
	if amount.Gt(redeemable) {
		return fmt.Errorf("withdrawal: request %s, redeemable %s: %w", amount.Dec(), redeemable.Dec(), domain.ErrInsufficientShares)
	}
	return g.positions.SetWithdrawalRequest(tx, owner, amount, now)
}

// Cancel clears owner's pending request.
func (g *Gate) Cancel(tx *journal.Tx, owner common.Address) error {
	pos, err := g.positions.Position(owner)
	if err != nil {
		return fmt.Errorf("withdrawal: cancel: %w", err)
	}
	if !pos.WithdrawalPending {
		return fmt.Errorf("withdrawal: cancel: %w", domain.ErrNotRequested)
	}
	g.positions.ClearWithdrawalRequest(tx, owner)
	return nil
}

// ReadyAt is when a request made at requestedAt may execute.
func (g *Gate) ReadyAt(requestedAt time.Time) time.Time {
	return requestedAt.Add(g.delay)
}

// Check verifies that owner may withdraw amount at now. The boundary
// now == requestedAt+delay is allowed.
func (g *Gate) Check(owner common.Address, amount *uint256.Int, now time.Time) error {
	pos, err := g.positions.Position(owner)
	if err != nil {
		return fmt.Errorf("withdrawal: %s: %w", owner.Hex(), domain.ErrNotRequested)
	}
	if !pos.WithdrawalPending {
		return fmt.Errorf("withdrawal: %s: %w", owner.Hex(), domain.ErrNotRequested)
	}
	if ready := g.ReadyAt(pos.WithdrawalRequestedAt); now.Before(ready) {
		return fmt.Errorf("withdrawal: ready at %s: %w", ready.Format(time.RFC3339), domain.ErrDelayNotElapsed)
	}
	if amount.Gt(pos.WithdrawalAmount) {
		return fmt.Errorf("withdrawal: %s over request %s: %w", amount.Dec(), pos.WithdrawalAmount.Dec(), domain.ErrExceedsRequest)
	}
	return nil
}

// Complete clears the request once the withdrawal has executed.
func (g *Gate) Complete(tx *journal.Tx, owner common.Address) {
	g.positions.ClearWithdrawalRequest(tx, owner)
}

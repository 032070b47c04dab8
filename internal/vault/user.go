package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/risk"
)

// DepositReceipt describes a completed deposit.
type DepositReceipt struct {
	Asset      string       `json:"asset"`
	AmountIn   *uint256.Int `json:"amount_in"`
	Credited   *uint256.Int `json:"credited"`
	Shares     *uint256.Int `json:"shares"`
	RoundID    uint64       `json:"round_id"`
	Registered bool         `json:"registered"`
}

// Deposit normalizes amount of symbol into the base asset, mints shares to
// owner and registers owner in the open round.
func (v *Vault) Deposit(ctx context.Context, owner common.Address, symbol string, amount *uint256.Int) (DepositReceipt, error) {
	if owner == (common.Address{}) {
		return DepositReceipt{}, fmt.Errorf("vault: deposit: %w", domain.ErrZeroAddress)
	}
	var receipt DepositReceipt
	err := v.run(ctx, "deposit", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if !v.ledger.State().DepositsEnabled {
			return fmt.Errorf("vault: deposit: %w", domain.ErrInactive)
		}
		norm, err := v.assets.DepositAsset(ctx, symbol, amount, func(_ *domain.AssetInfo, expected, minOut *uint256.Int) error {
			state, err := v.riskState()
			if err != nil {
				return fmt.Errorf("vault: deposit: %w", err)
			}
			if err := v.gate.Check(ctx, state, risk.Op{Kind: risk.OpDeposit, Amount: expected}); err != nil {
				return err
			}
			// Refuse before swapping if even the worst accepted fill mints nothing.
			preview, err := v.ledger.ConvertToShares(minOut)
			if err != nil {
				return fmt.Errorf("vault: deposit: %w", err)
			}
			if preview.IsZero() {
				return fmt.Errorf("vault: deposit %s %s: %w", amount.Dec(), symbol, domain.ErrZeroShares)
			}
			return nil
		})
		if err != nil {
			return err
		}
		info, credited := norm.Asset, norm.Credited
		shares, err := v.ledger.Mint(tx, owner, credited, now)
		if err != nil {
			return err
		}
		roundID, added := v.lottery.Register(tx, owner, now)
		if added {
			v.ledger.RecordRound(tx, owner, roundID)
		}

		receipt = DepositReceipt{
			Asset:      info.Symbol,
			AmountIn:   amount.Clone(),
			Credited:   credited,
			Shares:     shares,
			RoundID:    roundID,
			Registered: added,
		}
		v.emit(tx, now, domain.EventDeposit, owner.Hex(), func(e *domain.Event) {
			e.Account = &owner
			e.Asset = info.Symbol
			e.Amount = credited.Clone()
			e.Shares = shares.Clone()
			e.RoundID = roundID
			e.Detail = map[string]string{"amount_in": amount.Dec()}
		})
		return nil
	})
	if err != nil {
		return DepositReceipt{}, err
	}
	v.logger.InfoContext(ctx, "deposit",
		slog.String("owner", owner.Hex()),
		slog.String("asset", receipt.Asset),
		slog.String("credited", receipt.Credited.Dec()),
		slog.String("shares", receipt.Shares.Dec()),
		slog.Uint64("round_id", receipt.RoundID),
	)
	return receipt, nil
}

// RequestWithdrawal starts the withdrawal timer for amount base units.
func (v *Vault) RequestWithdrawal(ctx context.Context, owner common.Address, amount *uint256.Int) (time.Time, error) {
	var readyAt time.Time
	err := v.run(ctx, "request_withdrawal", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if err := v.withdrawals.Request(tx, owner, amount, now); err != nil {
			return err
		}
		readyAt = v.withdrawals.ReadyAt(now)
		v.emit(tx, now, domain.EventWithdrawalRequested, owner.Hex(), func(e *domain.Event) {
			e.Account = &owner
			e.Amount = amount.Clone()
			e.Detail = map[string]string{"ready_at": readyAt.Format(time.RFC3339)}
		})
		return nil
	})
	return readyAt, err
}

// CancelWithdrawal clears owner's pending request.
func (v *Vault) CancelWithdrawal(ctx context.Context, owner common.Address) error {
	return v.run(ctx, "cancel_withdrawal", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if err := v.withdrawals.Cancel(tx, owner); err != nil {
			return err
		}
		v.emit(tx, now, domain.EventWithdrawalCancelled, owner.Hex(), func(e *domain.Event) {
			e.Account = &owner
		})
		return nil
	})
}

// WithdrawReceipt describes a completed withdrawal.
type WithdrawReceipt struct {
	Amount   *uint256.Int   `json:"amount"`
	Shares   *uint256.Int   `json:"shares"`
	Receiver common.Address `json:"receiver"`
}

// Withdraw burns the shares backing amount and transfers amount to receiver.
// Only idle balance is paid out; strategies are never unwound here.
func (v *Vault) Withdraw(ctx context.Context, owner common.Address, amount *uint256.Int, receiver common.Address) (WithdrawReceipt, error) {
	if amount == nil || amount.IsZero() {
		return WithdrawReceipt{}, fmt.Errorf("vault: withdraw: %w", domain.ErrZeroAmount)
	}
	if receiver == (common.Address{}) {
		receiver = owner
	}
	var receipt WithdrawReceipt
	err := v.run(ctx, "withdraw", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		if err := v.withdrawals.Check(owner, amount, now); err != nil {
			return err
		}
		state, err := v.riskState()
		if err != nil {
			return fmt.Errorf("vault: withdraw: %w", err)
		}
		if err := v.gate.Check(ctx, state, risk.Op{Kind: risk.OpWithdraw, Amount: amount}); err != nil {
			return err
		}
		shares, err := v.ledger.Burn(tx, owner, amount)
		if err != nil {
			return err
		}
		v.withdrawals.Complete(tx, owner)
		if err := v.custodian.Transfer(ctx, receiver, amount); err != nil {
			return fmt.Errorf("vault: withdraw transfer: %v: %w", err, domain.ErrCollaborator)
		}

		receipt = WithdrawReceipt{Amount: amount.Clone(), Shares: shares, Receiver: receiver}
		v.emit(tx, now, domain.EventWithdrawal, owner.Hex(), func(e *domain.Event) {
			e.Account = &owner
			e.Detail = map[string]string{"receiver": receiver.Hex()}
			e.Amount = amount.Clone()
			e.Shares = shares.Clone()
		})
		return nil
	})
	if err != nil {
		return WithdrawReceipt{}, err
	}
	return receipt, nil
}

// ClaimPrize pays owner's prize for roundID.
func (v *Vault) ClaimPrize(ctx context.Context, owner common.Address, roundID uint64) (*uint256.Int, error) {
	var prize *uint256.Int
	err := v.run(ctx, "claim_prize", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		amount, err := v.lottery.Claim(tx, roundID, owner)
		if err != nil {
			return err
		}
		if err := v.ledger.PayPrize(tx, owner, amount); err != nil {
			return err
		}
		if err := v.custodian.Transfer(ctx, owner, amount); err != nil {
			return fmt.Errorf("vault: prize transfer: %v: %w", err, domain.ErrCollaborator)
		}
		prize = amount
		v.emit(tx, now, domain.EventPrizeClaimed, owner.Hex(), func(e *domain.Event) {
			e.Account = &owner
			e.RoundID = roundID
			e.Amount = amount.Clone()
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.logger.InfoContext(ctx, "prize claimed",
		slog.String("owner", owner.Hex()),
		slog.Uint64("round_id", roundID),
		slog.String("amount", prize.Dec()),
	)
	return prize, nil
}

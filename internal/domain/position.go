package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is a participant's stake in the vault. Positions are created on
// first deposit and kept forever, including at zero balance.
type Position struct {
	Owner         common.Address `json:"owner"`
	Principal     *uint256.Int   `json:"principal"`
	Shares        *uint256.Int   `json:"shares"`
	LastDepositAt time.Time      `json:"last_deposit_at"`
	Rounds        []uint64       `json:"rounds"`
	PrizesWon     *uint256.Int   `json:"prizes_won"`

	WithdrawalPending     bool         `json:"withdrawal_pending"`
	WithdrawalAmount      *uint256.Int `json:"withdrawal_amount"`
	WithdrawalRequestedAt time.Time    `json:"withdrawal_requested_at"`
}

// NewPosition returns an empty position for owner.
func NewPosition(owner common.Address) *Position {
	return &Position{
		Owner:            owner,
		Principal:        new(uint256.Int),
		Shares:           new(uint256.Int),
		PrizesWon:        new(uint256.Int),
		WithdrawalAmount: new(uint256.Int),
	}
}

// Clone returns a deep copy of p.
func (p *Position) Clone() *Position {
	out := *p
	out.Principal = p.Principal.Clone()
	out.Shares = p.Shares.Clone()
	out.PrizesWon = p.PrizesWon.Clone()
	out.WithdrawalAmount = p.WithdrawalAmount.Clone()
	out.Rounds = append([]uint64(nil), p.Rounds...)
	return &out
}

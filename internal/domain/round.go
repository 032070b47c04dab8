package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RoundStatus is derived from the round's window and finalized flag.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundClosed    RoundStatus = "closed"
	RoundFinalized RoundStatus = "finalized"
)

// Round is one fixed-length prize epoch. Participants is append-only and
// keeps first-registration order; the membership index mirrors it.
type Round struct {
	ID               uint64                  `json:"id"`
	StartTime        time.Time               `json:"start_time"`
	EndTime          time.Time               `json:"end_time"`
	TotalYield       *uint256.Int            `json:"total_yield"`
	Participants     []common.Address        `json:"participants"`
	RequestedWinners int                     `json:"requested_winners"`
	WinnerCount      int                     `json:"winner_count"`
	Winners          []common.Address        `json:"winners"`
	PrizePerWinner   *uint256.Int            `json:"prize_per_winner"`
	Remainder        *uint256.Int            `json:"remainder"`
	Seed             common.Hash             `json:"seed"`
	Finalized        bool                    `json:"finalized"`
	FinalizedAt      time.Time               `json:"finalized_at"`
	Claimed          map[common.Address]bool `json:"claimed"`

	index map[common.Address]struct{}
}

// NewRound opens a round covering [start, start+duration).
func NewRound(id uint64, start time.Time, duration time.Duration, base *uint256.Int) *Round {
	if base == nil {
		base = new(uint256.Int)
	}
	return &Round{
		ID:             id,
		StartTime:      start,
		EndTime:        start.Add(duration),
		TotalYield:     base.Clone(),
		PrizePerWinner: new(uint256.Int),
		Remainder:      new(uint256.Int),
		Claimed:        make(map[common.Address]bool),
		index:          make(map[common.Address]struct{}),
	}
}

// Status reports the lifecycle state at now.
func (r *Round) Status(now time.Time) RoundStatus {
	switch {
	case r.Finalized:
		return RoundFinalized
	case now.Before(r.EndTime):
		return RoundOpen
	default:
		return RoundClosed
	}
}

// HasParticipant reports whether addr registered in this round.
func (r *Round) HasParticipant(addr common.Address) bool {
	r.ensureIndex()
	_, ok := r.index[addr]
	return ok
}

// AddParticipant appends addr if absent and reports whether it was added.
func (r *Round) AddParticipant(addr common.Address) bool {
	r.ensureIndex()
	if _, ok := r.index[addr]; ok {
		return false
	}
	r.index[addr] = struct{}{}
	r.Participants = append(r.Participants, addr)
	return true
}

// RemoveLastParticipant undoes the most recent AddParticipant.
func (r *Round) RemoveLastParticipant() {
	n := len(r.Participants)
	if n == 0 {
		return
	}
	r.ensureIndex()
	delete(r.index, r.Participants[n-1])
	r.Participants = r.Participants[:n-1]
}

// IsWinner reports whether addr is in the winner list.
func (r *Round) IsWinner(addr common.Address) bool {
	for _, w := range r.Winners {
		if w == addr {
			return true
		}
	}
	return false
}

func (r *Round) ensureIndex() {
	if r.index != nil {
		return
	}
	r.index = make(map[common.Address]struct{}, len(r.Participants))
	for _, p := range r.Participants {
		r.index[p] = struct{}{}
	}
}

// Clone returns a deep copy of r.
func (r *Round) Clone() *Round {
	out := *r
	out.TotalYield = r.TotalYield.Clone()
	out.PrizePerWinner = r.PrizePerWinner.Clone()
	out.Remainder = r.Remainder.Clone()
	out.Participants = append([]common.Address(nil), r.Participants...)
	out.Winners = append([]common.Address(nil), r.Winners...)
	out.Claimed = make(map[common.Address]bool, len(r.Claimed))
	for k, v := range r.Claimed {
		out.Claimed[k] = v
	}
	out.index = nil
	return &out
}

package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventKind identifies a vault state transition.
type EventKind string

const (
	EventDeposit             EventKind = "deposit"
	EventWithdrawalRequested EventKind = "withdrawal_requested"
	EventWithdrawalCancelled EventKind = "withdrawal_cancelled"
	EventWithdrawal          EventKind = "withdrawal"
	EventHarvest             EventKind = "harvest"
	EventStrategyFailure     EventKind = "strategy_failure"
	EventRoundOpened         EventKind = "round_opened"
	EventRoundFinalized      EventKind = "round_finalized"
	EventPrizeClaimed        EventKind = "prize_claimed"
	EventStrategyRegistered  EventKind = "strategy_registered"
	EventStrategyUpdated     EventKind = "strategy_updated"
	EventStrategyRemoved     EventKind = "strategy_removed"
	EventDeploy              EventKind = "deploy"
	EventRebalance           EventKind = "rebalance"
	EventReport              EventKind = "report"
	EventEmergencyExit       EventKind = "emergency_exit"
	EventPaused              EventKind = "paused"
	EventUnpaused            EventKind = "unpaused"
	EventConfigUpdated       EventKind = "config_updated"
)

// Event is the structured record emitted for every state transition. Before
// and After carry enough totals to rebuild ledger history offline.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Seq        uint64            `json:"seq"`
	Kind       EventKind         `json:"kind"`
	At         time.Time         `json:"at"`
	Actor      string            `json:"actor,omitempty"`
	Account    *common.Address   `json:"account,omitempty"`
	StrategyID string            `json:"strategy_id,omitempty"`
	RoundID    uint64            `json:"round_id,omitempty"`
	Asset      string            `json:"asset,omitempty"`
	Amount     *uint256.Int      `json:"amount,omitempty"`
	Shares     *uint256.Int      `json:"shares,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	Before     Totals            `json:"before"`
	After      Totals            `json:"after"`
}

// NewEvent stamps a fresh event ID.
func NewEvent(kind EventKind, at time.Time) Event {
	return Event{ID: uuid.New(), Kind: kind, At: at}
}

// Package lottery runs the fixed-length prize rounds: participant
// registration while a round is open, the randomized winner draw once it has
// closed, and prize claims after finalization.
package lottery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// Config bounds rounds and draws.
type Config struct {
	RoundDuration time.Duration `json:"round_duration"`
	MinWinners    int           `json:"min_winners"`
	MaxWinners    int           `json:"max_winners"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RoundDuration <= 0 {
		return fmt.Errorf("lottery: round duration must be positive")
	}
	if c.MinWinners < 1 || c.MaxWinners < c.MinWinners {
		return fmt.Errorf("lottery: winners [%d,%d]: %w", c.MinWinners, c.MaxWinners, domain.ErrInvalidWinnerCount)
	}
	return nil
}

// Engine is not safe for concurrent use; the vault serializes access.
type Engine struct {
	cfg     Config
	rounds  map[uint64]*domain.Round
	order   []uint64
	current uint64
	oracle  domain.RandomnessOracle
	entropy domain.EntropySource
	logger  *slog.Logger
}

// New returns an engine with no rounds. Call Start to open round 1.
func New(cfg Config, oracle domain.RandomnessOracle, entropy domain.EntropySource, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		rounds:  make(map[uint64]*domain.Round),
		oracle:  oracle,
		entropy: entropy,
		logger:  logger.With(slog.String("component", "lottery")),
	}
}

// Restore loads persisted rounds. The highest round ID becomes current.
func (e *Engine) Restore(rounds []*domain.Round) {
	e.rounds = make(map[uint64]*domain.Round, len(rounds))
	e.order = e.order[:0]
	e.current = 0
	for _, r := range rounds {
		e.rounds[r.ID] = r.Clone()
		e.order = append(e.order, r.ID)
		if r.ID > e.current {
			e.current = r.ID
		}
	}
}

// Start opens round 1 if no round exists yet. It reports whether it did.
func (e *Engine) Start(tx *journal.Tx, now time.Time) bool {
	if e.current != 0 {
		return false
	}
	e.open(tx, 1, now, sharemath.Zero())
	return true
}

// Config returns the current configuration.
func (e *Engine) Config() Config { return e.cfg }

// SetConfig replaces the configuration. The running round keeps its window.
func (e *Engine) SetConfig(tx *journal.Tx, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prev := e.cfg
	e.cfg = cfg
	tx.OnRollback(func() { e.cfg = prev })
	return nil
}

// CurrentID is the ID of the round that is not yet finalized.
func (e *Engine) CurrentID() uint64 { return e.current }

// Current returns a copy of the non-finalized round.
func (e *Engine) Current() (*domain.Round, error) {
	return e.Round(e.current)
}

// Round returns a copy of round id.
func (e *Engine) Round(id uint64) (*domain.Round, error) {
	r, ok := e.rounds[id]
	if !ok {
		return nil, fmt.Errorf("lottery: round %d: %w", id, domain.ErrNotFound)
	}
	return r.Clone(), nil
}

// Rounds returns copies of every round, oldest first.
func (e *Engine) Rounds() []*domain.Round {
	out := make([]*domain.Round, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rounds[id].Clone())
	}
	return out
}

// Register adds addr to the current round if it is open and addr is not
// yet a participant. It returns the round ID and whether addr was added.
func (e *Engine) Register(tx *journal.Tx, addr common.Address, now time.Time) (uint64, bool) {
	r, ok := e.rounds[e.current]
	if !ok || r.Status(now) != domain.RoundOpen || r.HasParticipant(addr) {
		return e.current, false
	}
	r.AddParticipant(addr)
	tx.OnRollback(func() { r.RemoveLastParticipant() })
	tx.TouchRound(r)
	return r.ID, true
}

// CreditYield adds net yield to the current round's pool. Closed rounds
// awaiting finalization still accrue.
func (e *Engine) CreditYield(tx *journal.Tx, amount *uint256.Int) (uint64, error) {
	r, ok := e.rounds[e.current]
	if !ok {
		return 0, fmt.Errorf("lottery: no current round: %w", domain.ErrInvariant)
	}
	if amount.IsZero() {
		return r.ID, nil
	}
	total, err := sharemath.Add(r.TotalYield, amount)
	if err != nil {
		return 0, err
	}
	e.forWrite(tx, r).TotalYield = total
	return r.ID, nil
}

// Result is the outcome of a finalization.
type Result struct {
	Round *domain.Round
	Next  *domain.Round
}

// Finalize draws winners for round id and opens the next round. The oracle
// and entropy source are hard dependencies.
func (e *Engine) Finalize(ctx context.Context, tx *journal.Tx, id uint64, requested int, now time.Time) (Result, error) {
	r, ok := e.rounds[id]
	if !ok {
		return Result{}, fmt.Errorf("lottery: finalize round %d: %w", id, domain.ErrNotFound)
	}
	if r.Finalized {
		return Result{}, fmt.Errorf("lottery: finalize round %d: %w", id, domain.ErrAlreadyFinalized)
	}
	if now.Before(r.EndTime) {
		return Result{}, fmt.Errorf("lottery: finalize round %d before %s: %w", id, r.EndTime.Format(time.RFC3339), domain.ErrRoundNotEnded)
	}
	if requested < e.cfg.MinWinners || requested > e.cfg.MaxWinners {
		return Result{}, fmt.Errorf("lottery: %d winners outside [%d,%d]: %w", requested, e.cfg.MinWinners, e.cfg.MaxWinners, domain.ErrInvalidWinnerCount)
	}

	var (
		seed    common.Hash
		winners []common.Address
	)
	if n := len(r.Participants); n > 0 {
		random, err := e.oracle.RandomValue(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("lottery: randomness: %v: %w", err, domain.ErrCollaborator)
		}
		if random == nil {
			return Result{}, fmt.Errorf("lottery: randomness: nil value: %w", domain.ErrCollaborator)
		}
		entropy, err := e.entropy.Entropy(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("lottery: entropy: %v: %w", err, domain.ErrCollaborator)
		}
		seed = DeriveSeed(random, r.ID, now, entropy)
		winners = DrawWinners(seed, r.Participants, requested)
	}

	prize, remainder := sharemath.Zero(), r.TotalYield.Clone()
	if len(winners) > 0 {
		k := uint256.NewInt(uint64(len(winners)))
		prize = new(uint256.Int).Div(r.TotalYield, k)
		remainder = new(uint256.Int).Mod(r.TotalYield, k)
	}

	w := e.forWrite(tx, r)
	w.RequestedWinners = requested
	w.WinnerCount = len(winners)
	w.Winners = winners
	w.PrizePerWinner = prize
	w.Remainder = remainder
	w.Seed = seed
	w.Finalized = true
	w.FinalizedAt = now

	next := e.open(tx, r.ID+1, now, remainder)

	e.logger.InfoContext(ctx, "round finalized",
		slog.Uint64("round_id", r.ID),
		slog.Int("participants", len(r.Participants)),
		slog.Int("winners", len(winners)),
		slog.String("prize_per_winner", prize.Dec()),
		slog.String("remainder", remainder.Dec()),
		slog.String("seed", seed.Hex()),
	)
	return Result{Round: r.Clone(), Next: next.Clone()}, nil
}

// Claim marks addr's prize for round id as paid and returns the amount. The
// caller performs the transfer.
func (e *Engine) Claim(tx *journal.Tx, id uint64, addr common.Address) (*uint256.Int, error) {
	r, ok := e.rounds[id]
	if !ok {
		return nil, fmt.Errorf("lottery: claim round %d: %w", id, domain.ErrNotFound)
	}
	if !r.Finalized {
		return nil, fmt.Errorf("lottery: claim round %d: %w", id, domain.ErrNotFinalized)
	}
	if !r.IsWinner(addr) {
		return nil, fmt.Errorf("lottery: claim round %d by %s: %w", id, addr.Hex(), domain.ErrNotWinner)
	}
	if r.Claimed[addr] {
		return nil, fmt.Errorf("lottery: claim round %d by %s: %w", id, addr.Hex(), domain.ErrAlreadyClaimed)
	}
	if r.PrizePerWinner.IsZero() {
		return nil, fmt.Errorf("lottery: claim round %d: %w", id, domain.ErrNoPrize)
	}
	w := e.forWrite(tx, r)
	if w.Claimed == nil {
		w.Claimed = make(map[common.Address]bool)
	}
	w.Claimed[addr] = true
	return r.PrizePerWinner.Clone(), nil
}

func (e *Engine) open(tx *journal.Tx, id uint64, start time.Time, base *uint256.Int) *domain.Round {
	r := domain.NewRound(id, start, e.cfg.RoundDuration, base)
	prevCurrent := e.current
	e.rounds[id] = r
	e.order = append(e.order, id)
	e.current = id
	tx.OnRollback(func() {
		delete(e.rounds, id)
		e.order = e.order[:len(e.order)-1]
		e.current = prevCurrent
	})
	tx.TouchRound(r)
	return r
}

func (e *Engine) forWrite(tx *journal.Tx, r *domain.Round) *domain.Round {
	saved := r.Clone()
	tx.OnRollback(func() { *r = *saved })
	tx.TouchRound(r)
	return r
}

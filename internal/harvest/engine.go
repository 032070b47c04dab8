// Package harvest pulls realized yield out of strategies, peels off the
// management and performance fees, and credits the remainder to the current
// prize round.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/batch"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/ledger"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// SecondsPerYear is the management-fee accrual basis.
const SecondsPerYear = 31_536_000

// ErrFeesUnsettled marks a harvest whose fee transfer failed. The realized
// yield is held on the ledger as unsettled and the caller should commit.
var ErrFeesUnsettled = fmt.Errorf("fee transfer failed, yield held unsettled: %w", domain.ErrCollaborator)

// FeeConfig holds fee rates in basis points and the fee recipient.
type FeeConfig struct {
	ManagementBps  uint32         `json:"management_bps"`
	PerformanceBps uint32         `json:"performance_bps"`
	Recipient      common.Address `json:"recipient"`
}

// Validate checks rates and requires a recipient whenever a fee is charged.
func (c FeeConfig) Validate() error {
	if c.ManagementBps > sharemath.BpsDenominator || c.PerformanceBps > sharemath.BpsDenominator {
		return fmt.Errorf("harvest: fee rates %d/%d bps: %w", c.ManagementBps, c.PerformanceBps, domain.ErrInvalidWeight)
	}
	if (c.ManagementBps > 0 || c.PerformanceBps > 0) && c.Recipient == (common.Address{}) {
		return fmt.Errorf("harvest: fee recipient: %w", domain.ErrZeroAddress)
	}
	return nil
}

// Fees is the fee split for one harvest.
type Fees struct {
	Management  *uint256.Int
	Performance *uint256.Int
	// Owed includes fees carried from earlier harvests.
	Owed    *uint256.Int
	Paid    *uint256.Int
	Accrued *uint256.Int
	Net     *uint256.Int
}

// ComputeFees splits gross yield. Fees actually taken never exceed gross so
// the share price cannot fall on a harvest; the shortfall is carried in
// Accrued and collected first next time.
func ComputeFees(totalAssets, gross, accrued *uint256.Int, elapsed time.Duration, cfg FeeConfig) (Fees, error) {
	secs := uint64(0)
	if elapsed > 0 {
		secs = uint64(elapsed / time.Second)
	}
	rate := new(uint256.Int).Mul(uint256.NewInt(uint64(cfg.ManagementBps)), uint256.NewInt(secs))
	denom := uint256.NewInt(uint64(sharemath.BpsDenominator) * SecondsPerYear)
	mgmt, err := sharemath.MulDivDown(totalAssets, rate, denom)
	if err != nil {
		return Fees{}, fmt.Errorf("harvest: management fee: %w", err)
	}
	perf, err := sharemath.Bps(gross, uint64(cfg.PerformanceBps))
	if err != nil {
		return Fees{}, fmt.Errorf("harvest: performance fee: %w", err)
	}
	owed, err := sharemath.Sum(accrued, mgmt, perf)
	if err != nil {
		return Fees{}, fmt.Errorf("harvest: fees owed: %w", err)
	}
	paid := sharemath.Min(owed, gross)
	return Fees{
		Management:  mgmt,
		Performance: perf,
		Owed:        owed,
		Paid:        paid,
		Accrued:     new(uint256.Int).Sub(owed, paid),
		Net:         new(uint256.Int).Sub(gross, paid),
	}, nil
}

// Harvester runs the per-strategy harvest calls.
type Harvester interface {
	Harvest(ctx context.Context, tx *journal.Tx, ids []string, now time.Time) batch.Outcome[string, *uint256.Int]
}

// Books is the ledger surface the engine posts to.
type Books interface {
	TotalAssets() (*uint256.Int, error)
	State() *domain.VaultState
	CreditIdle(tx *journal.Tx, amount *uint256.Int) error
	ApplyHarvest(tx *journal.Tx, d ledger.Distribution) error
	HoldUnsettled(tx *journal.Tx, amount *uint256.Int)
}

// Rounds receives the net yield.
type Rounds interface {
	CreditYield(tx *journal.Tx, amount *uint256.Int) (uint64, error)
}

// Report describes one harvest.
type Report struct {
	Gross          *uint256.Int            `json:"gross"`
	Carried        *uint256.Int            `json:"carried"`
	ManagementFee  *uint256.Int            `json:"management_fee"`
	PerformanceFee *uint256.Int            `json:"performance_fee"`
	FeesPaid       *uint256.Int            `json:"fees_paid"`
	AccruedFees    *uint256.Int            `json:"accrued_fees"`
	Net            *uint256.Int            `json:"net"`
	Unsettled      *uint256.Int            `json:"unsettled,omitempty"`
	RoundID        uint64                  `json:"round_id"`
	Harvested      map[string]*uint256.Int `json:"harvested"`
	Failed         map[string]string       `json:"failed,omitempty"`
}

// Engine is not safe for concurrent use; the vault serializes access.
type Engine struct {
	cfg       FeeConfig
	harvester Harvester
	books     Books
	rounds    Rounds
	custodian domain.Custodian
	logger    *slog.Logger
}

// NewEngine wires an engine.
func NewEngine(cfg FeeConfig, harvester Harvester, books Books, rounds Rounds, custodian domain.Custodian, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		harvester: harvester,
		books:     books,
		rounds:    rounds,
		custodian: custodian,
		logger:    logger.With(slog.String("component", "harvest")),
	}
}

// Config returns the fee configuration.
func (e *Engine) Config() FeeConfig { return e.cfg }

// SetConfig replaces the fee configuration.
func (e *Engine) SetConfig(tx *journal.Tx, cfg FeeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prev := e.cfg
	e.cfg = cfg
	tx.OnRollback(func() { e.cfg = prev })
	return nil
}

// Harvest collects yield from ids (all active strategies when empty). Strategy
// failures are isolated. When the fee transfer fails the distribution is
// undone, the realized yield is held as unsettled on the ledger and the
// returned error wraps ErrFeesUnsettled; everything else in tx stands.
func (e *Engine) Harvest(ctx context.Context, tx *journal.Tx, ids []string, now time.Time) (Report, error) {
	total, err := e.books.TotalAssets()
	if err != nil {
		return Report{}, fmt.Errorf("harvest: total assets: %w", err)
	}
	state := e.books.State()

	outcome := e.harvester.Harvest(ctx, tx, ids, now)
	carried := state.UnsettledYield
	if carried == nil {
		carried = sharemath.Zero()
	}
	report := Report{
		Carried:   carried.Clone(),
		Harvested: make(map[string]*uint256.Int),
		Failed:    make(map[string]string),
	}
	gross := carried.Clone()
	for _, r := range outcome.Results {
		if r.Err != nil {
			report.Failed[r.Key] = r.Err.Error()
			continue
		}
		report.Harvested[r.Key] = r.Value
		if gross, err = sharemath.Add(gross, r.Value); err != nil {
			return Report{}, fmt.Errorf("harvest: gross: %w", err)
		}
	}
	report.Gross = gross

	fees, err := ComputeFees(total, gross, state.AccruedFees, now.Sub(state.LastFeeCollection), e.cfg)
	if err != nil {
		return Report{}, err
	}
	report.ManagementFee = fees.Management
	report.PerformanceFee = fees.Performance
	report.FeesPaid = fees.Paid
	report.AccruedFees = fees.Accrued
	report.Net = fees.Net

	sp := tx.Savepoint()
	if err := e.books.CreditIdle(tx, gross); err != nil {
		return Report{}, fmt.Errorf("harvest: credit idle: %w", err)
	}
	if err := e.books.ApplyHarvest(tx, ledger.Distribution{
		Gross:       gross,
		FeesPaid:    fees.Paid,
		Net:         fees.Net,
		AccruedFees: fees.Accrued,
		CollectedAt: now,
	}); err != nil {
		return Report{}, fmt.Errorf("harvest: %w", err)
	}
	if report.RoundID, err = e.rounds.CreditYield(tx, fees.Net); err != nil {
		return Report{}, fmt.Errorf("harvest: credit round: %w", err)
	}

	if !fees.Paid.IsZero() {
		if err := e.custodian.Transfer(ctx, e.cfg.Recipient, fees.Paid); err != nil {
			// The yield has left the strategies; hold it for the next harvest.
			tx.RollbackTo(sp)
			e.books.HoldUnsettled(tx, gross)
			e.logger.ErrorContext(ctx, "harvest: fee transfer failed",
				slog.String("fees", fees.Paid.Dec()),
				slog.String("unsettled", gross.Dec()),
				slog.String("error", err.Error()),
			)
			return Report{
				Gross:     gross,
				Carried:   report.Carried,
				Unsettled: gross.Clone(),
				Harvested: report.Harvested,
				Failed:    report.Failed,
			}, fmt.Errorf("harvest: %v: %w", err, ErrFeesUnsettled)
		}
	}

	e.logger.InfoContext(ctx, "harvest complete",
		slog.String("gross", gross.Dec()),
		slog.String("fees_paid", fees.Paid.Dec()),
		slog.String("net", fees.Net.Dec()),
		slog.String("accrued_fees", fees.Accrued.Dec()),
		slog.Uint64("round_id", report.RoundID),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

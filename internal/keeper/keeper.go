// Package keeper drives the vault's periodic maintenance: harvesting,
// rebalancing, balance reports, round finalization and event archival.
// Only the holder of the single-writer lease runs these loops.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
)

// ErrLeaseLost is returned by Run when another instance took over.
var ErrLeaseLost = errors.New("keeper: writer lease lost")

// Vault is the maintenance surface the keeper calls.
type Vault interface {
	Harvest(ctx context.Context, p domain.Principal, ids []string) (harvest.Report, error)
	Rebalance(ctx context.Context, p domain.Principal) (allocator.RebalanceReport, error)
	Report(ctx context.Context, p domain.Principal) (map[string]string, error)
	FinalizeCurrent(ctx context.Context, p domain.Principal, requested int) (*domain.Round, error)
}

// Config holds loop intervals. A zero interval disables that loop.
type Config struct {
	HarvestInterval   time.Duration
	RebalanceInterval time.Duration
	ReportInterval    time.Duration
	FinalizeInterval  time.Duration
	// Winners is the requested winner count passed to finalization.
	Winners int
	// ArchiveCron is a standard 5-field expression; empty disables archival.
	ArchiveCron      string
	ArchiveRetention time.Duration
	LeaseTTL         time.Duration
	LeaseRetry       time.Duration
}

// Keeper is started once per process.
type Keeper struct {
	vault     Vault
	archiver  domain.Archiver
	leases    domain.LeaseManager
	principal domain.Principal
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Keeper. archiver and leases may be nil; without a lease
// manager the keeper assumes it is the only writer.
func New(v Vault, archiver domain.Archiver, leases domain.LeaseManager, p domain.Principal, cfg Config, logger *slog.Logger) *Keeper {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.LeaseRetry <= 0 {
		cfg.LeaseRetry = 5 * time.Second
	}
	if cfg.Winners <= 0 {
		cfg.Winners = 1
	}
	return &Keeper{
		vault:     v,
		archiver:  archiver,
		leases:    leases,
		principal: p,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "keeper")),
	}
}

// Run blocks until ctx is cancelled or the lease is lost.
func (k *Keeper) Run(ctx context.Context) error {
	lease, err := k.acquire(ctx)
	if err != nil {
		return err
	}
	if lease != nil {
		defer lease.Release()
	}

	k.logger.InfoContext(ctx, "keeper starting",
		slog.Duration("harvest_interval", k.cfg.HarvestInterval),
		slog.Duration("rebalance_interval", k.cfg.RebalanceInterval),
		slog.Duration("report_interval", k.cfg.ReportInterval),
		slog.Duration("finalize_interval", k.cfg.FinalizeInterval),
		slog.String("archive_cron", k.cfg.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)
	if lease != nil {
		g.Go(func() error { return k.holdLease(ctx, lease) })
	}
	k.loop(g, ctx, "harvest", k.cfg.HarvestInterval, k.HarvestOnce)
	k.loop(g, ctx, "rebalance", k.cfg.RebalanceInterval, k.RebalanceOnce)
	k.loop(g, ctx, "report", k.cfg.ReportInterval, k.ReportOnce)
	k.loop(g, ctx, "finalize", k.cfg.FinalizeInterval, k.FinalizeOnce)
	if k.archiver != nil && k.cfg.ArchiveCron != "" {
		g.Go(func() error { return k.runArchiveCron(ctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		k.logger.Error("keeper stopped with error", slog.String("error", err.Error()))
		return err
	}
	k.logger.Info("keeper stopped cleanly")
	return nil
}

// acquire waits for the writer lease.
func (k *Keeper) acquire(ctx context.Context) (domain.Lease, error) {
	if k.leases == nil {
		return nil, nil
	}
	for {
		lease, err := k.leases.AcquireLease(ctx, domain.LeaseVaultWriter, k.cfg.LeaseTTL)
		if err == nil {
			k.logger.InfoContext(ctx, "writer lease acquired")
			return lease, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			k.logger.WarnContext(ctx, "writer lease acquire failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(k.cfg.LeaseRetry):
		}
	}
}

func (k *Keeper) holdLease(ctx context.Context, lease domain.Lease) error {
	ticker := time.NewTicker(k.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrLeaseLost, err)
			}
		}
	}
}

func (k *Keeper) loop(g *errgroup.Group, ctx context.Context, name string, every time.Duration, tick func(context.Context) error) {
	if every <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := tick(ctx); err != nil && ctx.Err() == nil {
					k.logger.ErrorContext(ctx, "keeper task failed",
						slog.String("task", name),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// HarvestOnce harvests every active strategy.
func (k *Keeper) HarvestOnce(ctx context.Context) error {
	rep, err := k.vault.Harvest(ctx, k.principal, nil)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	k.logger.InfoContext(ctx, "harvest tick",
		slog.String("gross", rep.Gross.Dec()),
		slog.String("to_round", rep.Net.Dec()),
		slog.Int("failed", len(rep.Failed)),
	)
	return nil
}

// RebalanceOnce runs one rebalance pass.
func (k *Keeper) RebalanceOnce(ctx context.Context) error {
	rep, err := k.vault.Rebalance(ctx, k.principal)
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	if rep.Triggered {
		k.logger.InfoContext(ctx, "rebalance tick", slog.Int("moves", len(rep.Moves)))
	}
	return nil
}

// ReportOnce refreshes strategy balances.
func (k *Keeper) ReportOnce(ctx context.Context) error {
	failed, err := k.vault.Report(ctx, k.principal)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if len(failed) > 0 {
		k.logger.WarnContext(ctx, "report tick had failures", slog.Int("failed", len(failed)))
	}
	return nil
}

// FinalizeOnce finalizes the current round if it has ended.
func (k *Keeper) FinalizeOnce(ctx context.Context) error {
	r, err := k.vault.FinalizeCurrent(ctx, k.principal, k.cfg.Winners)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if r != nil {
		k.logger.InfoContext(ctx, "round finalized",
			slog.Uint64("round_id", r.ID),
			slog.Int("winners", r.WinnerCount),
			slog.String("prize_per_winner", r.PrizePerWinner.Dec()),
		)
	}
	return nil
}

// ArchiveOnce archives events older than the retention window.
func (k *Keeper) ArchiveOnce(ctx context.Context) error {
	if k.archiver == nil {
		return nil
	}
	cutoff := k.now().UTC().Add(-k.cfg.ArchiveRetention)
	n, err := k.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive events before %v: %w", cutoff, err)
	}
	k.logger.InfoContext(ctx, "archive run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("events_archived", n),
	)
	return nil
}

func (k *Keeper) runArchiveCron(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(k.cfg.ArchiveCron, func() {
		if err := k.ArchiveOnce(ctx); err != nil && ctx.Err() == nil {
			k.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("keeper: archive cron %q: %w", k.cfg.ArchiveCron, err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

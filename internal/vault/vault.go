// Package vault is the transaction boundary of the prize vault. Every entry
// point runs as one atomic unit under the vault mutex: component mutations
// are journaled, rolled back on any failure, and on success persisted and
// published as events carrying before/after totals.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/asset"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/ledger"
	"github.com/alanyoungcy/prizevault/internal/lottery"
	"github.com/alanyoungcy/prizevault/internal/risk"
	"github.com/alanyoungcy/prizevault/internal/withdrawal"
)

// Config holds the initial policy of every component.
type Config struct {
	BaseAsset       string
	Assets          []*domain.AssetInfo
	Fees            harvest.FeeConfig
	Risk            risk.Limits
	Allocator       allocator.Config
	Lottery         lottery.Config
	WithdrawalDelay time.Duration
	PersistTimeout  time.Duration
}

// Collaborators are the external services the vault calls out to.
type Collaborators struct {
	Oracle    domain.RandomnessOracle
	Entropy   domain.EntropySource
	Exchange  domain.Exchange
	Custodian domain.Custodian
}

// EventSink receives committed events in sequence order.
type EventSink interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// Option customizes a Vault.
type Option func(*Vault)

// WithStore persists every committed changeset to s.
func WithStore(s domain.VaultStore) Option { return func(v *Vault) { v.store = s } }

// WithSink adds an event sink.
func WithSink(s EventSink) Option { return func(v *Vault) { v.sinks = append(v.sinks, s) } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(v *Vault) { v.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(v *Vault) { v.logger = l } }

type opKey struct{}

// Vault is safe for concurrent use. Mutating operations are serialized and
// fail fast with ErrReentrant while another one is in flight; views wait.
type Vault struct {
	mu sync.RWMutex
	// busy is set while a mutating operation holds mu.
	busy atomic.Bool

	ledger      *ledger.Ledger
	alloc       *allocator.Allocator
	gate        *risk.Gate
	harvester   *harvest.Engine
	lottery     *lottery.Engine
	withdrawals *withdrawal.Gate
	assets      *asset.Registry
	custodian   domain.Custodian

	cfg            Config
	store          domain.VaultStore
	sinks          []EventSink
	now            func() time.Time
	logger         *slog.Logger
	seq            uint64
	pending        domain.Changeset
	persistTimeout time.Duration
}

// New builds a vault. Call Load before serving traffic.
func New(cfg Config, c Collaborators, opts ...Option) (*Vault, error) {
	if c.Custodian == nil || c.Oracle == nil || c.Entropy == nil {
		return nil, fmt.Errorf("vault: custodian, oracle and entropy are required: %w", domain.ErrCollaborator)
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Lottery.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseAsset == "" {
		return nil, fmt.Errorf("vault: base asset required: %w", domain.ErrUnsupportedAsset)
	}

	v := &Vault{
		cfg:            cfg,
		custodian:      c.Custodian,
		now:            time.Now,
		logger:         slog.Default(),
		persistTimeout: cfg.PersistTimeout,
	}
	for _, o := range opts {
		o(v)
	}
	if v.persistTimeout <= 0 {
		v.persistTimeout = 10 * time.Second
	}
	v.logger = v.logger.With(slog.String("component", "vault"))

	v.ledger = ledger.New(v.now(), func() (*uint256.Int, error) { return v.alloc.Deployed() })
	v.gate = risk.NewGate(cfg.Risk, v.logger)
	v.alloc = allocator.New(v.ledger, v.gate, cfg.Allocator, v.logger)
	v.lottery = lottery.New(cfg.Lottery, c.Oracle, c.Entropy, v.logger)
	v.harvester = harvest.NewEngine(cfg.Fees, v.alloc, v.ledger, v.lottery, c.Custodian, v.logger)
	v.withdrawals = withdrawal.New(cfg.WithdrawalDelay, v.ledger)
	v.assets = asset.New(cfg.BaseAsset, c.Exchange, v.logger)
	return v, nil
}

// Load restores persisted state, if a store is configured, then opens the
// first round and seeds configured assets that are not yet known.
func (v *Vault) Load(ctx context.Context) error {
	if v.store != nil {
		snap, err := v.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("vault: load: %w", err)
		}
		v.mu.Lock()
		if snap.Vault != nil {
			v.ledger.Restore(snap.Vault, snap.Positions)
			v.alloc.Restore(snap.Strategies)
			v.lottery.Restore(snap.Rounds)
			v.assets.Restore(snap.Assets)
		}
		v.seq = snap.LastSeq
		v.mu.Unlock()
		v.logger.InfoContext(ctx, "vault state loaded",
			slog.Int("positions", len(snap.Positions)),
			slog.Int("strategies", len(snap.Strategies)),
			slog.Int("rounds", len(snap.Rounds)),
			slog.Uint64("last_seq", snap.LastSeq),
		)
	}

	return v.run(ctx, "bootstrap", func(ctx context.Context, tx *journal.Tx, now time.Time) error {
		tx.TouchVault()
		if v.lottery.Start(tx, now) {
			v.emitRoundOpened(tx, now, "system")
		}
		assets := v.cfg.Assets
		if len(assets) == 0 {
			assets = []*domain.AssetInfo{{
				Symbol:     v.cfg.BaseAsset,
				Supported:  true,
				MinDeposit: uint256.NewInt(1),
				MaxDeposit: new(uint256.Int),
				Conversion: domain.ConversionDirect,
			}}
		}
		for _, a := range assets {
			if _, err := v.assets.Get(a.Symbol); err == nil {
				continue
			}
			if err := v.assets.Upsert(tx, a); err != nil {
				return fmt.Errorf("vault: seed asset %q: %w", a.Symbol, err)
			}
		}
		return nil
	})
}

// AttachStrategy binds an adapter to a strategy restored from the store.
func (v *Vault) AttachStrategy(id string, adapter domain.Strategy) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alloc.Attach(id, adapter)
}

type opFunc func(ctx context.Context, tx *journal.Tx, now time.Time) error

// run executes fn as one atomic unit. Nested entry from a collaborator
// callback is refused whatever context the callback uses: the latch is
// checked before mu so a nested call can never block on its own caller.
// An independent caller that arrives while an operation is in flight gets
// the same error and may retry. One that slips in between the check and
// the lock simply waits for mu.
func (v *Vault) run(ctx context.Context, op string, fn opFunc) error {
	if active, ok := ctx.Value(opKey{}).(string); ok {
		return fmt.Errorf("vault: %s inside %s: %w", op, active, domain.ErrReentrant)
	}
	if v.busy.Load() {
		return fmt.Errorf("vault: %s: %w", op, domain.ErrReentrant)
	}

	events, err := v.locked(context.WithValue(ctx, opKey{}, op), op, fn)
	if err != nil {
		return err
	}
	v.publish(ctx, events)
	return nil
}

func (v *Vault) locked(ctx context.Context, op string, fn opFunc) ([]domain.Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.busy.Store(true)
	defer v.busy.Store(false)

	now := v.now()
	before, err := v.ledger.Totals()
	if err != nil {
		return nil, fmt.Errorf("vault: %s: %w", op, err)
	}
	tx := journal.New()
	if err := fn(ctx, tx, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := v.ledger.ObserveSharePrice(tx); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("vault: %s: %w", op, err)
	}
	after, err := v.ledger.Totals()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("vault: %s: %w", op, err)
	}

	cs := tx.Commit(v.ledger.State())
	for i := range cs.Events {
		v.seq++
		cs.Events[i].Seq = v.seq
		cs.Events[i].Before = before
		cs.Events[i].After = after
	}
	v.persist(ctx, cs)
	return cs.Events, nil
}

// persist writes cs, folding in any changeset an earlier commit failed to
// write. In-memory state stays authoritative when the store is down.
func (v *Vault) persist(ctx context.Context, cs domain.Changeset) {
	if v.store == nil {
		return
	}
	cs = journal.Merge(v.pending, cs)
	if cs.Empty() {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.persistTimeout)
	defer cancel()
	if err := v.store.Apply(pctx, cs); err != nil {
		v.pending = cs
		v.logger.ErrorContext(ctx, "vault: persist failed, will retry on next commit",
			slog.Int("events", len(cs.Events)),
			slog.String("error", err.Error()),
		)
		return
	}
	v.pending = domain.Changeset{}
}

// Flush retries any changeset that failed to persist.
func (v *Vault) Flush(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.store == nil || v.pending.Empty() {
		return nil
	}
	if err := v.store.Apply(ctx, v.pending); err != nil {
		return fmt.Errorf("vault: flush: %w", err)
	}
	v.pending = domain.Changeset{}
	return nil
}

// PendingPersist reports whether a changeset is waiting to be written.
func (v *Vault) PendingPersist() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.pending.Empty()
}

func (v *Vault) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range v.sinks {
		if err := s.Publish(ctx, events); err != nil {
			v.logger.WarnContext(ctx, "vault: event sink failed",
				slog.Int("events", len(events)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (v *Vault) emit(tx *journal.Tx, now time.Time, kind domain.EventKind, actor string, fill func(*domain.Event)) {
	e := domain.NewEvent(kind, now)
	e.Actor = actor
	if fill != nil {
		fill(&e)
	}
	tx.Emit(e)
}

func (v *Vault) emitRoundOpened(tx *journal.Tx, now time.Time, actor string) {
	r, err := v.lottery.Current()
	if err != nil {
		return
	}
	v.emit(tx, now, domain.EventRoundOpened, actor, func(e *domain.Event) {
		e.RoundID = r.ID
		e.Amount = r.TotalYield.Clone()
		e.Detail = map[string]string{
			"start": r.StartTime.Format(time.RFC3339),
			"end":   r.EndTime.Format(time.RFC3339),
		}
	})
}

func (v *Vault) riskState() (risk.State, error) {
	total, err := v.ledger.TotalAssets()
	if err != nil {
		return risk.State{}, err
	}
	st := v.ledger.State()
	return risk.State{TotalAssets: total, TotalShares: st.TotalShares, SharePriceHigh: st.SharePriceHigh}, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL. Every entity is
// upserted whole; a changeset is written in one transaction.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore backed by the given connection pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// Load reads the full vault state. An empty database yields a snapshot with a
// nil Vault.
func (s *VaultStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var err error

	if snap.Vault, err = s.loadVault(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Positions, err = s.loadPositions(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Strategies, err = s.loadStrategies(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Rounds, err = s.loadRounds(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Assets, err = s.loadAssets(ctx); err != nil {
		return domain.Snapshot{}, err
	}

	var last int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM vault_events`).Scan(&last); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: last event seq: %w", err)
	}
	snap.LastSeq = uint64(last)
	return snap, nil
}

func (s *VaultStore) loadVault(ctx context.Context) (*domain.VaultState, error) {
	const query = `
		SELECT total_shares::text, idle_balance::text, prize_pool::text,
			accrued_fees::text, fees_paid::text, total_yield_generated::text,
			total_principal::text, share_price_high::text, unsettled_yield::text,
			last_fee_collection, deposits_enabled
		FROM vault_state WHERE id = 1`

	v := &domain.VaultState{}
	amounts := make([]string, 9)
	err := s.pool.QueryRow(ctx, query).Scan(
		&amounts[0], &amounts[1], &amounts[2], &amounts[3],
		&amounts[4], &amounts[5], &amounts[6], &amounts[7], &amounts[8],
		&v.LastFeeCollection, &v.DepositsEnabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load vault state: %w", err)
	}
	if err := parseAmounts(amounts,
		&v.TotalShares, &v.IdleBalance, &v.PrizePool, &v.AccruedFees,
		&v.FeesPaid, &v.TotalYieldGenerated, &v.TotalPrincipal, &v.SharePriceHigh,
		&v.UnsettledYield,
	); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *VaultStore) loadPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
		SELECT owner, principal::text, shares::text, last_deposit_at, rounds,
			prizes_won::text, withdrawal_pending, withdrawal_amount::text,
			withdrawal_requested_at
		FROM positions ORDER BY ord`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		var (
			owner                      string
			principal, shares, won, wd string
			lastDeposit, requestedAt   *time.Time
			rounds                     []int64
			p                          domain.Position
		)
		if err := rows.Scan(&owner, &principal, &shares, &lastDeposit, &rounds,
			&won, &p.WithdrawalPending, &wd, &requestedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		if !common.IsHexAddress(owner) {
			return nil, fmt.Errorf("postgres: position owner %q is not an address", owner)
		}
		p.Owner = common.HexToAddress(owner)
		if err := parseAmounts([]string{principal, shares, won, wd},
			&p.Principal, &p.Shares, &p.PrizesWon, &p.WithdrawalAmount); err != nil {
			return nil, err
		}
		p.LastDepositAt = derefTime(lastDeposit)
		p.WithdrawalRequestedAt = derefTime(requestedAt)
		p.Rounds = toUint64s(rounds)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load positions rows: %w", err)
	}
	return out, nil
}

func (s *VaultStore) loadStrategies(ctx context.Context) ([]*domain.StrategyInfo, error) {
	const query = `
		SELECT id, kind, weight_bps, current_balance::text, principal::text,
			risk_tier, active, registered_at, last_report_at, last_error
		FROM strategies ORDER BY ord`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load strategies: %w", err)
	}
	defer rows.Close()

	var out []*domain.StrategyInfo
	for rows.Next() {
		var (
			st         domain.StrategyInfo
			weight     int32
			balance    string
			principal  string
			tier       string
			lastReport *time.Time
		)
		if err := rows.Scan(&st.ID, &st.Kind, &weight, &balance, &principal, &tier, &st.Active,
			&st.RegisteredAt, &lastReport, &st.LastError); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		if st.CurrentBalance, err = parseAmount(balance); err != nil {
			return nil, err
		}
		if st.Principal, err = parseAmount(principal); err != nil {
			return nil, err
		}
		st.WeightBps = uint32(weight)
		st.RiskTier = domain.RiskTier(tier)
		st.LastReportAt = derefTime(lastReport)
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load strategies rows: %w", err)
	}
	return out, nil
}

func (s *VaultStore) loadRounds(ctx context.Context) ([]*domain.Round, error) {
	const query = `
		SELECT id, start_time, end_time, total_yield::text, participants,
			requested_winners, winner_count, winners, prize_per_winner::text,
			remainder::text, seed, finalized, finalized_at, claimed
		FROM rounds ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load rounds: %w", err)
	}
	defer rows.Close()

	var out []*domain.Round
	for rows.Next() {
		var (
			r                              domain.Round
			id                             int64
			yield, prize, remainder        string
			participants, winners, claimed []string
			requested, count               int32
			seed                           []byte
			finalizedAt                    *time.Time
		)
		if err := rows.Scan(&id, &r.StartTime, &r.EndTime, &yield, &participants,
			&requested, &count, &winners, &prize, &remainder, &seed,
			&r.Finalized, &finalizedAt, &claimed); err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		r.ID = uint64(id)
		r.RequestedWinners = int(requested)
		r.WinnerCount = int(count)
		r.FinalizedAt = derefTime(finalizedAt)
		r.Seed = common.BytesToHash(seed)
		if err := parseAmounts([]string{yield, prize, remainder},
			&r.TotalYield, &r.PrizePerWinner, &r.Remainder); err != nil {
			return nil, err
		}
		if r.Participants, err = addresses(participants); err != nil {
			return nil, err
		}
		if r.Winners, err = addresses(winners); err != nil {
			return nil, err
		}
		claimedAddrs, err := addresses(claimed)
		if err != nil {
			return nil, err
		}
		r.Claimed = make(map[common.Address]bool, len(claimedAddrs))
		for _, a := range claimedAddrs {
			r.Claimed[a] = true
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load rounds rows: %w", err)
	}
	return out, nil
}

func (s *VaultStore) loadAssets(ctx context.Context) ([]*domain.AssetInfo, error) {
	const query = `
		SELECT symbol, decimals, supported, min_deposit::text, max_deposit::text,
			conversion, slippage_bps
		FROM assets ORDER BY ord`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load assets: %w", err)
	}
	defer rows.Close()

	var out []*domain.AssetInfo
	for rows.Next() {
		var (
			a              domain.AssetInfo
			decimals       int16
			minDep, maxDep string
			conversion     string
			slippage       int32
		)
		if err := rows.Scan(&a.Symbol, &decimals, &a.Supported, &minDep, &maxDep,
			&conversion, &slippage); err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		if err := parseAmounts([]string{minDep, maxDep}, &a.MinDeposit, &a.MaxDeposit); err != nil {
			return nil, err
		}
		a.Decimals = uint8(decimals)
		a.Conversion = domain.Conversion(conversion)
		a.SlippageBps = uint32(slippage)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load assets rows: %w", err)
	}
	return out, nil
}

// Apply writes cs in a single transaction.
func (s *VaultStore) Apply(ctx context.Context, cs domain.Changeset) error {
	if cs.Empty() {
		return nil
	}

	batch := &pgx.Batch{}
	if cs.Vault != nil {
		queueVault(batch, cs.Vault)
	}
	for _, p := range cs.Positions {
		queuePosition(batch, p)
	}
	for _, st := range cs.Strategies {
		queueStrategy(batch, st)
	}
	for _, r := range cs.Rounds {
		queueRound(batch, r)
	}
	for _, a := range cs.Assets {
		queueAsset(batch, a)
	}
	for _, e := range cs.Events {
		if err := queueEvent(batch, e); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: apply changeset item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: apply changeset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit changeset: %w", err)
	}
	return nil
}

func queueVault(b *pgx.Batch, v *domain.VaultState) {
	const query = `
		INSERT INTO vault_state (
			id, total_shares, idle_balance, prize_pool, accrued_fees, fees_paid,
			total_yield_generated, total_principal, share_price_high,
			unsettled_yield, last_fee_collection, deposits_enabled, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total_shares          = EXCLUDED.total_shares,
			idle_balance          = EXCLUDED.idle_balance,
			prize_pool            = EXCLUDED.prize_pool,
			accrued_fees          = EXCLUDED.accrued_fees,
			fees_paid             = EXCLUDED.fees_paid,
			total_yield_generated = EXCLUDED.total_yield_generated,
			total_principal       = EXCLUDED.total_principal,
			share_price_high      = EXCLUDED.share_price_high,
			unsettled_yield       = EXCLUDED.unsettled_yield,
			last_fee_collection   = EXCLUDED.last_fee_collection,
			deposits_enabled      = EXCLUDED.deposits_enabled,
			updated_at            = NOW()`
	b.Queue(query,
		dec(v.TotalShares), dec(v.IdleBalance), dec(v.PrizePool), dec(v.AccruedFees),
		dec(v.FeesPaid), dec(v.TotalYieldGenerated), dec(v.TotalPrincipal), dec(v.SharePriceHigh),
		dec(v.UnsettledYield), v.LastFeeCollection, v.DepositsEnabled,
	)
}

func queuePosition(b *pgx.Batch, p *domain.Position) {
	const query = `
		INSERT INTO positions (
			owner, principal, shares, last_deposit_at, rounds, prizes_won,
			withdrawal_pending, withdrawal_amount, withdrawal_requested_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (owner) DO UPDATE SET
			principal               = EXCLUDED.principal,
			shares                  = EXCLUDED.shares,
			last_deposit_at         = EXCLUDED.last_deposit_at,
			rounds                  = EXCLUDED.rounds,
			prizes_won              = EXCLUDED.prizes_won,
			withdrawal_pending      = EXCLUDED.withdrawal_pending,
			withdrawal_amount       = EXCLUDED.withdrawal_amount,
			withdrawal_requested_at = EXCLUDED.withdrawal_requested_at,
			updated_at              = NOW()`
	b.Queue(query,
		p.Owner.Hex(), dec(p.Principal), dec(p.Shares), optTime(p.LastDepositAt),
		toInt64s(p.Rounds), dec(p.PrizesWon),
		p.WithdrawalPending, dec(p.WithdrawalAmount), optTime(p.WithdrawalRequestedAt),
	)
}

func queueStrategy(b *pgx.Batch, st *domain.StrategyInfo) {
	const query = `
		INSERT INTO strategies (
			id, kind, weight_bps, current_balance, principal, risk_tier, active,
			registered_at, last_report_at, last_error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			kind            = EXCLUDED.kind,
			weight_bps      = EXCLUDED.weight_bps,
			current_balance = EXCLUDED.current_balance,
			principal       = EXCLUDED.principal,
			risk_tier       = EXCLUDED.risk_tier,
			active          = EXCLUDED.active,
			last_report_at  = EXCLUDED.last_report_at,
			last_error      = EXCLUDED.last_error,
			updated_at      = NOW()`
	b.Queue(query,
		st.ID, st.Kind, int32(st.WeightBps), dec(st.CurrentBalance), dec(st.Principal), string(st.RiskTier), st.Active,
		st.RegisteredAt, optTime(st.LastReportAt), st.LastError,
	)
}

func queueRound(b *pgx.Batch, r *domain.Round) {
	const query = `
		INSERT INTO rounds (
			id, start_time, end_time, total_yield, participants, requested_winners,
			winner_count, winners, prize_per_winner, remainder, seed, finalized,
			finalized_at, claimed, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total_yield       = EXCLUDED.total_yield,
			participants      = EXCLUDED.participants,
			requested_winners = EXCLUDED.requested_winners,
			winner_count      = EXCLUDED.winner_count,
			winners           = EXCLUDED.winners,
			prize_per_winner  = EXCLUDED.prize_per_winner,
			remainder         = EXCLUDED.remainder,
			seed              = EXCLUDED.seed,
			finalized         = EXCLUDED.finalized,
			finalized_at      = EXCLUDED.finalized_at,
			claimed           = EXCLUDED.claimed,
			updated_at        = NOW()`

	claimed := make([]string, 0, len(r.Claimed))
	for _, w := range r.Winners {
		if r.Claimed[w] {
			claimed = append(claimed, w.Hex())
		}
	}
	var seed []byte
	if r.Seed != (common.Hash{}) {
		seed = r.Seed.Bytes()
	}
	b.Queue(query,
		int64(r.ID), r.StartTime, r.EndTime, dec(r.TotalYield), hexes(r.Participants),
		int32(r.RequestedWinners), int32(r.WinnerCount), hexes(r.Winners),
		dec(r.PrizePerWinner), dec(r.Remainder), seed, r.Finalized,
		optTime(r.FinalizedAt), claimed,
	)
}

func queueAsset(b *pgx.Batch, a *domain.AssetInfo) {
	const query = `
		INSERT INTO assets (
			symbol, decimals, supported, min_deposit, max_deposit, conversion,
			slippage_bps, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			decimals     = EXCLUDED.decimals,
			supported    = EXCLUDED.supported,
			min_deposit  = EXCLUDED.min_deposit,
			max_deposit  = EXCLUDED.max_deposit,
			conversion   = EXCLUDED.conversion,
			slippage_bps = EXCLUDED.slippage_bps,
			updated_at   = NOW()`
	b.Queue(query,
		a.Symbol, int16(a.Decimals), a.Supported, dec(a.MinDeposit), dec(a.MaxDeposit),
		string(a.Conversion), int32(a.SlippageBps),
	)
}

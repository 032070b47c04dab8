package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Events are
// written by VaultStore.Apply alongside the state they describe.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `seq, id, kind, at, actor, account, strategy_id, round_id,
	asset, amount::text, shares::text, detail, before_totals, after_totals`

func queueEvent(b *pgx.Batch, e domain.Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}
	before, err := json.Marshal(e.Before)
	if err != nil {
		return fmt.Errorf("postgres: marshal event totals: %w", err)
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return fmt.Errorf("postgres: marshal event totals: %w", err)
	}
	var account *string
	if e.Account != nil {
		a := e.Account.Hex()
		account = &a
	}

	const query = `
		INSERT INTO vault_events (
			seq, id, kind, at, actor, account, strategy_id, round_id, asset,
			amount, shares, detail, before_totals, after_totals
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (seq) DO NOTHING`
	b.Queue(query,
		int64(e.Seq), e.ID, string(e.Kind), e.At, e.Actor, account, e.StrategyID,
		int64(e.RoundID), e.Asset, optDec(e.Amount), optDec(e.Shares),
		detail, before, after,
	)
	return nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			e                     domain.Event
			seq, roundID          int64
			id                    uuid.UUID
			kind                  string
			account               *string
			amount, shares        *string
			detail, before, after []byte
		)
		if err := rows.Scan(&seq, &id, &kind, &e.At, &e.Actor, &account, &e.StrategyID,
			&roundID, &e.Asset, &amount, &shares, &detail, &before, &after); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Seq = uint64(seq)
		e.ID = id
		e.Kind = domain.EventKind(kind)
		e.RoundID = uint64(roundID)
		if account != nil {
			a := common.HexToAddress(*account)
			e.Account = &a
		}
		var err error
		if e.Amount, err = parseOptAmount(amount); err != nil {
			return nil, err
		}
		if e.Shares, err = parseOptAmount(shares); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		if err := json.Unmarshal(before, &e.Before); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event totals: %w", err)
		}
		if err := json.Unmarshal(after, &e.After); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event totals: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// List returns events in sequence order with pagination and optional time
// filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := newPageQuery(`SELECT `+eventSelectCols+` FROM vault_events`).
		window("at", opts).
		page("seq DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListBefore returns up to limit unarchived events older than before, oldest
// first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + `
		FROM vault_events
		WHERE NOT archived AND at < $1
		ORDER BY seq ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkArchived flags every event up to and including upToSeq as archived.
func (s *EventStore) MarkArchived(ctx context.Context, upToSeq uint64) error {
	const query = `UPDATE vault_events SET archived = TRUE WHERE seq <= $1 AND NOT archived`
	if _, err := s.pool.Exec(ctx, query, int64(upToSeq)); err != nil {
		return fmt.Errorf("postgres: mark events archived up to %d: %w", upToSeq, err)
	}
	return nil
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Snapshot is the full persisted vault state loaded at startup.
type Snapshot struct {
	Vault      *VaultState
	Positions  []*Position
	Strategies []*StrategyInfo
	Rounds     []*Round
	Assets     []*AssetInfo
	LastSeq    uint64
}

// Changeset is the set of entities a committed transaction touched, plus
// the events it emitted.
type Changeset struct {
	Vault      *VaultState
	Positions  []*Position
	Strategies []*StrategyInfo
	Rounds     []*Round
	Assets     []*AssetInfo
	Events     []Event
}

// Empty reports whether c carries nothing to persist.
func (c Changeset) Empty() bool {
	return c.Vault == nil && len(c.Positions) == 0 && len(c.Strategies) == 0 &&
		len(c.Rounds) == 0 && len(c.Assets) == 0 && len(c.Events) == 0
}

// VaultStore persists vault entities.
type VaultStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, cs Changeset) error
}

// EventStore reads the append-only event log.
type EventStore interface {
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Event, error)
	MarkArchived(ctx context.Context, upToSeq uint64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

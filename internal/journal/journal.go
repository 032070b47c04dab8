// Package journal implements the undo log that makes every vault entry point
// all-or-nothing. Components register an inverse for each mutation and mark
// the entities they touched; the vault either commits the dirty set to the
// store or replays the inverses in reverse order.
package journal

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// Tx collects undo actions, dirty entities and events for one operation.
type Tx struct {
	undo []func()

	vault      bool
	positions  []*domain.Position
	strategies []*domain.StrategyInfo
	rounds     []*domain.Round
	assets     []*domain.AssetInfo

	seenPos   map[common.Address]bool
	seenStrat map[string]bool
	seenRound map[uint64]bool
	seenAsset map[string]bool

	events []domain.Event
	done   bool
}

// New starts an empty transaction.
func New() *Tx {
	return &Tx{
		seenPos:   make(map[common.Address]bool),
		seenStrat: make(map[string]bool),
		seenRound: make(map[uint64]bool),
		seenAsset: make(map[string]bool),
	}
}

// OnRollback registers fn to run if the transaction is rolled back. Inverses
// run last-registered first.
func (t *Tx) OnRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// TouchVault marks the aggregate vault state dirty.
func (t *Tx) TouchVault() { t.vault = true }

// TouchPosition marks p dirty.
func (t *Tx) TouchPosition(p *domain.Position) {
	if t.seenPos[p.Owner] {
		return
	}
	t.seenPos[p.Owner] = true
	t.positions = append(t.positions, p)
}

// TouchStrategy marks s dirty.
func (t *Tx) TouchStrategy(s *domain.StrategyInfo) {
	if t.seenStrat[s.ID] {
		return
	}
	t.seenStrat[s.ID] = true
	t.strategies = append(t.strategies, s)
}

// TouchRound marks r dirty.
func (t *Tx) TouchRound(r *domain.Round) {
	if t.seenRound[r.ID] {
		return
	}
	t.seenRound[r.ID] = true
	t.rounds = append(t.rounds, r)
}

// TouchAsset marks a dirty.
func (t *Tx) TouchAsset(a *domain.AssetInfo) {
	if t.seenAsset[a.Symbol] {
		return
	}
	t.seenAsset[a.Symbol] = true
	t.assets = append(t.assets, a)
}

// Emit queues an event for publication after commit.
func (t *Tx) Emit(e domain.Event) {
	t.events = append(t.events, e)
}

// Events returns the queued events.
func (t *Tx) Events() []domain.Event { return t.events }

// Rollback replays every registered inverse in reverse order. It is safe to
// call more than once.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.events = nil
}

// Savepoint marks a point a transaction can partially roll back to.
type Savepoint struct {
	undo, events                          int
	vault                                 bool
	positions, strategies, rounds, assets int
}

// Savepoint returns the current position of t.
func (t *Tx) Savepoint() Savepoint {
	return Savepoint{
		undo:       len(t.undo),
		events:     len(t.events),
		vault:      t.vault,
		positions:  len(t.positions),
		strategies: len(t.strategies),
		rounds:     len(t.rounds),
		assets:     len(t.assets),
	}
}

// RollbackTo replays the inverses registered after sp and forgets the
// entities and events recorded since. Earlier work stays pending.
func (t *Tx) RollbackTo(sp Savepoint) {
	if t.done || sp.undo > len(t.undo) {
		return
	}
	for i := len(t.undo) - 1; i >= sp.undo; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:sp.undo]
	t.events = t.events[:sp.events]
	t.vault = sp.vault
	for _, p := range t.positions[sp.positions:] {
		delete(t.seenPos, p.Owner)
	}
	t.positions = t.positions[:sp.positions]
	for _, s := range t.strategies[sp.strategies:] {
		delete(t.seenStrat, s.ID)
	}
	t.strategies = t.strategies[:sp.strategies]
	for _, r := range t.rounds[sp.rounds:] {
		delete(t.seenRound, r.ID)
	}
	t.rounds = t.rounds[:sp.rounds]
	for _, a := range t.assets[sp.assets:] {
		delete(t.seenAsset, a.Symbol)
	}
	t.assets = t.assets[:sp.assets]
}

// Commit seals the transaction and returns deep copies of the dirty entities.
// vault is the live state, copied only if it was touched.
func (t *Tx) Commit(vault *domain.VaultState) domain.Changeset {
	t.done = true
	t.undo = nil

	var cs domain.Changeset
	if t.vault && vault != nil {
		cs.Vault = vault.Clone()
	}
	for _, p := range t.positions {
		cs.Positions = append(cs.Positions, p.Clone())
	}
	for _, s := range t.strategies {
		cs.Strategies = append(cs.Strategies, s.Clone())
	}
	for _, r := range t.rounds {
		cs.Rounds = append(cs.Rounds, r.Clone())
	}
	for _, a := range t.assets {
		cs.Assets = append(cs.Assets, a.Clone())
	}
	cs.Events = append(cs.Events, t.events...)
	return cs
}

// Merge folds next into prev. Entities in next replace those with the same
// key in prev; events are appended in order.
func Merge(prev, next domain.Changeset) domain.Changeset {
	out := domain.Changeset{Vault: prev.Vault}
	if next.Vault != nil {
		out.Vault = next.Vault
	}
	out.Positions = mergeBy(prev.Positions, next.Positions, func(p *domain.Position) common.Address { return p.Owner })
	out.Strategies = mergeBy(prev.Strategies, next.Strategies, func(s *domain.StrategyInfo) string { return s.ID })
	out.Rounds = mergeBy(prev.Rounds, next.Rounds, func(r *domain.Round) uint64 { return r.ID })
	out.Assets = mergeBy(prev.Assets, next.Assets, func(a *domain.AssetInfo) string { return a.Symbol })
	out.Events = append(append([]domain.Event(nil), prev.Events...), next.Events...)
	return out
}

func mergeBy[T any, K comparable](prev, next []T, key func(T) K) []T {
	if len(prev) == 0 {
		return next
	}
	idx := make(map[K]int, len(prev))
	out := append([]T(nil), prev...)
	for i, v := range out {
		idx[key(v)] = i
	}
	for _, v := range next {
		if i, ok := idx[key(v)]; ok {
			out[i] = v
			continue
		}
		idx[key(v)] = len(out)
		out = append(out, v)
	}
	return out
}

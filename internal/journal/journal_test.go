package journal

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

func TestRollbackRunsInReverse(t *testing.T) {
	tx := New()
	var order []int
	tx.OnRollback(func() { order = append(order, 1) })
	tx.OnRollback(func() { order = append(order, 2) })
	tx.Emit(domain.Event{Kind: domain.EventDeposit})

	tx.Rollback()
	tx.Rollback()

	assert.Equal(t, []int{2, 1}, order)
	assert.Empty(t, tx.Events())
}

func TestRollbackToKeepsEarlierWork(t *testing.T) {
	tx := New()
	var order []int
	kept := domain.NewPosition(common.HexToAddress("0x01"))
	tx.OnRollback(func() { order = append(order, 1) })
	tx.TouchPosition(kept)
	tx.Emit(domain.Event{Kind: domain.EventDeposit})

	sp := tx.Savepoint()
	dropped := domain.NewPosition(common.HexToAddress("0x02"))
	tx.OnRollback(func() { order = append(order, 2) })
	tx.OnRollback(func() { order = append(order, 3) })
	tx.TouchPosition(dropped)
	tx.TouchVault()
	tx.Emit(domain.Event{Kind: domain.EventHarvest})

	tx.RollbackTo(sp)
	assert.Equal(t, []int{3, 2}, order)
	require.Len(t, tx.Events(), 1)
	assert.Equal(t, domain.EventDeposit, tx.Events()[0].Kind)

	tx.TouchPosition(dropped)
	cs := tx.Commit(domain.NewVaultState(kept.LastDepositAt))
	assert.Nil(t, cs.Vault)
	require.Len(t, cs.Positions, 2, "a position forgotten by RollbackTo can be touched again")

	tx.Rollback()
	assert.Equal(t, []int{3, 2}, order, "commit discards the remaining inverses")
}

func TestCommitCopiesDirtyEntities(t *testing.T) {
	tx := New()
	p := domain.NewPosition(common.HexToAddress("0x01"))
	tx.TouchPosition(p)
	tx.TouchPosition(p)

	cs := tx.Commit(domain.NewVaultState(p.LastDepositAt))
	require.Len(t, cs.Positions, 1)
	assert.Nil(t, cs.Vault)

	p.Shares = uint256.NewInt(5)
	assert.True(t, cs.Positions[0].Shares.IsZero(), "changeset must not alias live state")
}

func TestMergeReplacesByKey(t *testing.T) {
	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")
	old := domain.NewPosition(a)
	newer := domain.NewPosition(a)
	newer.Shares = uint256.NewInt(9)

	prev := domain.Changeset{Positions: []*domain.Position{old}, Events: []domain.Event{{Seq: 1}}}
	next := domain.Changeset{Positions: []*domain.Position{domain.NewPosition(b), newer}, Events: []domain.Event{{Seq: 2}}}

	out := Merge(prev, next)
	require.Len(t, out.Positions, 2)
	assert.Equal(t, a, out.Positions[0].Owner)
	assert.Equal(t, uint64(9), out.Positions[0].Shares.Uint64())
	assert.Equal(t, b, out.Positions[1].Owner)
	require.Len(t, out.Events, 2)
	assert.Equal(t, uint64(2), out.Events[1].Seq)
}

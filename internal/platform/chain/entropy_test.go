package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHeaders struct {
	header *ethtypes.Header
	err    error
	number *big.Int
	called bool
}

func (s *stubHeaders) HeaderByNumber(_ context.Context, n *big.Int) (*ethtypes.Header, error) {
	s.called = true
	s.number = n
	return s.header, s.err
}

func TestBlockEntropyUsesLatestHeaderHash(t *testing.T) {
	h := &ethtypes.Header{Number: big.NewInt(42), Time: 1_700_000_000, Difficulty: big.NewInt(0)}
	stub := &stubHeaders{header: h}
	e := NewBlockEntropy(stub, time.Second)

	got, err := e.Entropy(context.Background())
	require.NoError(t, err)
	assert.True(t, stub.called)
	assert.Nil(t, stub.number)
	assert.Equal(t, h.Hash(), got)
}

func TestBlockEntropyWrapsRPCError(t *testing.T) {
	e := NewBlockEntropy(&stubHeaders{err: errors.New("connection refused")}, time.Second)
	_, err := e.Entropy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLocalEntropyIsFresh(t *testing.T) {
	a, err := LocalEntropy{}.Entropy(context.Background())
	require.NoError(t, err)
	b, err := LocalEntropy{}.Entropy(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, a)
	assert.NotEqual(t, a, b)
}

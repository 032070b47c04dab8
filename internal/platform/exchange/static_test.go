package exchange

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

func TestStaticQuoteAndSwap(t *testing.T) {
	x := NewStatic()
	require.NoError(t, x.SetRate("WETH", "USDC", Rate{Num: uint256.NewInt(3000), Den: uint256.NewInt(1_000_000_000_000)}))

	q, err := x.Quote(context.Background(), "WETH", "USDC", uint256.NewInt(2_000_000_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "6000000000", q.Dec())

	out, err := x.Swap(context.Background(), "WETH", "USDC", uint256.NewInt(2_000_000_000_000_000_000), q)
	require.NoError(t, err)
	assert.True(t, out.Eq(q))
}

func TestStaticSwapBelowMinimum(t *testing.T) {
	x := NewStatic()
	require.NoError(t, x.SetRate("DAI", "USDC", Rate{Num: uint256.NewInt(1), Den: uint256.NewInt(1_000_000_000_000)}))

	_, err := x.Swap(context.Background(), "DAI", "USDC", uint256.NewInt(1_000_000_000_000), uint256.NewInt(2))
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestStaticUnknownPair(t *testing.T) {
	_, err := NewStatic().Quote(context.Background(), "X", "Y", uint256.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnsupportedAsset)
}

func TestStaticRejectsZeroDenominator(t *testing.T) {
	err := NewStatic().SetRate("X", "Y", Rate{Num: uint256.NewInt(1), Den: new(uint256.Int)})
	require.Error(t, err)
}

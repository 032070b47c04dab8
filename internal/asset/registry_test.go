package asset

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// rateExchange quotes at 2:1 and fills at fillBps of the quote.
type rateExchange struct{ fillBps uint64 }

func (e rateExchange) Quote(_ context.Context, _, _ string, in *uint256.Int) (*uint256.Int, error) {
	return new(uint256.Int).Mul(in, u(2)), nil
}

func (e rateExchange) Swap(_ context.Context, _, _ string, in, _ *uint256.Int) (*uint256.Int, error) {
	q := new(uint256.Int).Mul(in, u(2))
	return q.Div(q.Mul(q, u(e.fillBps)), u(10_000)), nil
}

func newRegistry(t *testing.T, fillBps uint64) *Registry {
	t.Helper()
	r := New("USDC", rateExchange{fillBps: fillBps}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, r.Upsert(journal.New(), &domain.AssetInfo{
		Symbol: "USDC", Decimals: 6, Supported: true,
		MinDeposit: u(10), MaxDeposit: u(1000), Conversion: domain.ConversionDirect,
	}))
	require.NoError(t, r.Upsert(journal.New(), &domain.AssetInfo{
		Symbol: "DAI", Decimals: 18, Supported: true,
		MinDeposit: u(1), MaxDeposit: u(0), Conversion: domain.ConversionSwap, SlippageBps: 100,
	}))
	return r
}

func TestValidateBounds(t *testing.T) {
	r := newRegistry(t, 10_000)
	_, err := r.Validate("USDC", u(9))
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
	_, err = r.Validate("USDC", u(1001))
	assert.ErrorIs(t, err, domain.ErrAboveMaximum)
	_, err = r.Validate("USDC", u(0))
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
	_, err = r.Validate("WBTC", u(10))
	assert.ErrorIs(t, err, domain.ErrUnsupportedAsset)
	_, err = r.Validate("DAI", u(1_000_000))
	assert.NoError(t, err, "zero max is unbounded")
}

func TestDirectDepositPassesThrough(t *testing.T) {
	r := newRegistry(t, 10_000)
	out, err := r.DepositAsset(context.Background(), "USDC", u(100), nil)
	require.NoError(t, err)
	assert.Equal(t, "USDC", out.Asset.Symbol)
	assert.Equal(t, uint64(100), out.Credited.Uint64())
}

func TestSwapCreditsActualOutput(t *testing.T) {
	r := newRegistry(t, 9950)
	out, err := r.DepositAsset(context.Background(), "DAI", u(100), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(199), out.Credited.Uint64())
}

func TestSwapSlippageGuard(t *testing.T) {
	r := newRegistry(t, 9899)
	_, err := r.DepositAsset(context.Background(), "DAI", u(100), nil)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestPrecheckRunsBeforeSwap(t *testing.T) {
	ex := &countingExchange{}
	r := New("USDC", ex, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, r.Upsert(journal.New(), &domain.AssetInfo{
		Symbol: "DAI", Decimals: 18, Supported: true,
		MinDeposit: u(1), MaxDeposit: u(0), Conversion: domain.ConversionSwap, SlippageBps: 100,
	}))

	var gotExpected, gotMin *uint256.Int
	_, err := r.DepositAsset(context.Background(), "DAI", u(100), func(info *domain.AssetInfo, expected, minOut *uint256.Int) error {
		assert.Equal(t, "DAI", info.Symbol)
		gotExpected, gotMin = expected, minOut
		return domain.ErrRiskRejected
	})
	require.ErrorIs(t, err, domain.ErrRiskRejected)
	assert.Equal(t, uint64(200), gotExpected.Uint64())
	assert.Equal(t, uint64(198), gotMin.Uint64())
	assert.Zero(t, ex.swaps, "a rejected deposit never reaches the exchange")
}

type countingExchange struct {
	rateExchange
	swaps int
}

func (e *countingExchange) Swap(ctx context.Context, from, to string, in, minOut *uint256.Int) (*uint256.Int, error) {
	e.swaps++
	return rateExchange{fillBps: 10_000}.Swap(ctx, from, to, in, minOut)
}

func TestUpsertRollback(t *testing.T) {
	r := newRegistry(t, 10_000)
	tx := journal.New()
	require.NoError(t, r.Upsert(tx, &domain.AssetInfo{
		Symbol: "USDC", Supported: false, MinDeposit: u(0), MaxDeposit: u(0), Conversion: domain.ConversionDirect,
	}))
	require.NoError(t, r.Upsert(tx, &domain.AssetInfo{
		Symbol: "ETH", Supported: true, MinDeposit: u(0), MaxDeposit: u(0), Conversion: domain.ConversionSwap,
	}))
	tx.Rollback()

	a, err := r.Get("USDC")
	require.NoError(t, err)
	assert.True(t, a.Supported)
	_, err = r.Get("ETH")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, r.List(), 2)

	err = r.Upsert(journal.New(), &domain.AssetInfo{Symbol: "USDC", MinDeposit: u(0), MaxDeposit: u(0), Conversion: domain.ConversionSwap})
	assert.ErrorIs(t, err, domain.ErrUnsupportedAsset)
}

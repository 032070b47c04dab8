package withdrawal

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/ledger"
)

var (
	alice = common.HexToAddress("0xa11ce")
	t0    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	delay = 24 * time.Hour
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func setup(t *testing.T) *Gate {
	t.Helper()
	l := ledger.New(t0, nil)
	_, err := l.Mint(journal.New(), alice, u(100), t0)
	require.NoError(t, err)
	return New(delay, l)
}

func TestDelayBoundaryIsInclusive(t *testing.T) {
	g := setup(t)
	require.NoError(t, g.Request(journal.New(), alice, u(40), t0))

	assert.ErrorIs(t, g.Check(alice, u(40), t0), domain.ErrDelayNotElapsed)
	assert.ErrorIs(t, g.Check(alice, u(40), t0.Add(delay-time.Nanosecond)), domain.ErrDelayNotElapsed)
	assert.NoError(t, g.Check(alice, u(40), t0.Add(delay)))
	assert.NoError(t, g.Check(alice, u(10), t0.Add(2*delay)))
	assert.ErrorIs(t, g.Check(alice, u(41), t0.Add(delay)), domain.ErrExceedsRequest)
}

func TestCheckWithoutRequest(t *testing.T) {
	g := setup(t)
	assert.ErrorIs(t, g.Check(alice, u(1), t0), domain.ErrNotRequested)
	assert.ErrorIs(t, g.Check(common.HexToAddress("0xdead"), u(1), t0), domain.ErrNotRequested)
}

func TestRequestValidation(t *testing.T) {
	g := setup(t)
	assert.ErrorIs(t, g.Request(journal.New(), alice, u(0), t0), domain.ErrZeroAmount)
	assert.ErrorIs(t, g.Request(journal.New(), alice, u(101), t0), domain.ErrInsufficientShares)
	assert.ErrorIs(t, g.Request(journal.New(), common.HexToAddress("0xdead"), u(1), t0), domain.ErrNotFound)
}

func TestReRequestRestartsTimer(t *testing.T) {
	g := setup(t)
	require.NoError(t, g.Request(journal.New(), alice, u(40), t0))
	require.NoError(t, g.Request(journal.New(), alice, u(50), t0.Add(delay)))
	assert.ErrorIs(t, g.Check(alice, u(50), t0.Add(delay)), domain.ErrDelayNotElapsed)
	assert.NoError(t, g.Check(alice, u(50), t0.Add(2*delay)))
}

func TestCancel(t *testing.T) {
	g := setup(t)
	assert.ErrorIs(t, g.Cancel(journal.New(), alice), domain.ErrNotRequested)
	require.NoError(t, g.Request(journal.New(), alice, u(40), t0))
	require.NoError(t, g.Cancel(journal.New(), alice))
	assert.ErrorIs(t, g.Check(alice, u(40), t0.Add(delay)), domain.ErrNotRequested)
}

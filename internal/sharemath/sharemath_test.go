package sharemath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMulDivRounding(t *testing.T) {
	down, err := MulDivDown(u(10), u(3), u(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), down.Uint64())

	up, err := MulDivUp(u(10), u(3), u(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), up.Uint64())

	exact, err := MulDivUp(u(10), u(4), u(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), exact.Uint64())
}

func TestMulDivWideIntermediate(t *testing.T) {
	top := new(uint256.Int).SetAllOne()
	z, err := MulDivDown(top, u(2), u(4))
	require.NoError(t, err)
	want := new(uint256.Int).Rsh(top, 1)
	assert.True(t, z.Eq(want), "got %s", z.Dec())
}

func TestInvariantErrors(t *testing.T) {
	_, err := Sub(u(1), u(2))
	assert.ErrorIs(t, err, domain.ErrInvariant)

	_, err = Add(new(uint256.Int).SetAllOne(), u(1))
	assert.ErrorIs(t, err, domain.ErrInvariant)

	_, err = MulDivDown(u(1), u(1), u(0))
	assert.ErrorIs(t, err, domain.ErrInvariant)

	_, err = MulDivDown(new(uint256.Int).SetAllOne(), u(4), u(2))
	assert.ErrorIs(t, err, domain.ErrInvariant)
}

func TestBootstrapMintIsOneToOne(t *testing.T) {
	s, err := ToShares(u(100), u(0), u(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.Uint64())
}

func TestConvertRoundTripNeverCreatesValue(t *testing.T) {
	cases := []struct {
		shares, assets uint64
	}{
		{100, 100},
		{100, 110},
		{3, 10},
		{1_000_000, 999_999},
		{7, 1_000_000_007},
	}
	for _, c := range cases {
		for _, x := range []uint64{0, 1, 2, 3, 9, 10, 11, 99, 12345, 1_000_000} {
			shares, err := ToShares(u(x), u(c.shares), u(c.assets))
			require.NoError(t, err)
			back, err := ToAssets(shares, u(c.shares), u(c.assets))
			require.NoError(t, err)
			assert.LessOrEqualf(t, back.Uint64(), x, "x=%d shares=%d assets=%d", x, c.shares, c.assets)

			burn, err := ToSharesUp(u(x), u(c.shares), u(c.assets))
			require.NoError(t, err)
			released, err := ToAssets(burn, u(c.shares), u(c.assets))
			require.NoError(t, err)
			assert.GreaterOrEqualf(t, released.Uint64(), x, "burn must cover x=%d", x)
		}
	}
}

func TestRatioAndPrice(t *testing.T) {
	r, err := RatioBps(u(25), u(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), r)

	r, err = RatioBps(u(25), u(0))
	require.NoError(t, err)
	assert.Zero(t, r)

	p, err := SharePrice(u(110), u(100))
	require.NoError(t, err)
	assert.Equal(t, "1100000000000000000", p.Dec())

	p, err = SharePrice(u(0), u(0))
	require.NoError(t, err)
	assert.True(t, p.Eq(Precision))

	fee, err := Bps(u(10), 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fee.Uint64())
}

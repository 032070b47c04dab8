// Package sharemath holds the checked 256-bit arithmetic behind share
// minting, fee computation and allocation ratios. Every helper returns a new
// value and reports overflow or underflow as domain.ErrInvariant rather than
// wrapping.
package sharemath

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// BpsDenominator is the basis-point scale.
const BpsDenominator = 10_000

// Precision scales share prices.
var Precision = uint256.NewInt(1_000_000_000_000_000_000)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Add returns a+b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("sharemath: add %s+%s: %w", a.Dec(), b.Dec(), domain.ErrInvariant)
	}
	return z, nil
}

// Sub returns a-b.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("sharemath: sub %s-%s: %w", a.Dec(), b.Dec(), domain.ErrInvariant)
	}
	return z, nil
}

// SubFloor returns a-b, or zero when b exceeds a. Only used for derived
// views such as deviation, never for balances.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// MulDivDown returns floor(x*y/d) computed at 512-bit precision.
func MulDivDown(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("sharemath: division by zero: %w", domain.ErrInvariant)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("sharemath: muldiv %s*%s/%s: %w", x.Dec(), y.Dec(), d.Dec(), domain.ErrInvariant)
	}
	return z, nil
}

// MulDivUp returns ceil(x*y/d).
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDivDown(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	return Add(z, uint256.NewInt(1))
}

// Bps returns floor(x*bps/10000).
func Bps(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDivDown(x, uint256.NewInt(bps), uint256.NewInt(BpsDenominator))
}

// RatioBps returns floor(part*10000/whole), or zero when whole is zero.
func RatioBps(part, whole *uint256.Int) (uint64, error) {
	if whole.IsZero() {
		return 0, nil
	}
	r, err := MulDivDown(part, uint256.NewInt(BpsDenominator), whole)
	if err != nil {
		return 0, err
	}
	if !r.IsUint64() {
		return 0, fmt.Errorf("sharemath: ratio %s/%s: %w", part.Dec(), whole.Dec(), domain.ErrInvariant)
	}
	return r.Uint64(), nil
}

// ToShares converts assets to shares, rounding down. The first deposit
// mints 1:1.
func ToShares(assets, totalShares, totalAssets *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return assets.Clone(), nil
	}
	if totalAssets.IsZero() {
		return nil, fmt.Errorf("sharemath: %s shares backed by zero assets: %w", totalShares.Dec(), domain.ErrInvariant)
	}
	return MulDivDown(assets, totalShares, totalAssets)
}

// ToSharesUp converts assets to the shares that must be burned to release
// them, rounding up.
func ToSharesUp(assets, totalShares, totalAssets *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return assets.Clone(), nil
	}
	if totalAssets.IsZero() {
		return nil, fmt.Errorf("sharemath: %s shares backed by zero assets: %w", totalShares.Dec(), domain.ErrInvariant)
	}
	return MulDivUp(assets, totalShares, totalAssets)
}

// ToAssets converts shares to assets, rounding down.
func ToAssets(shares, totalShares, totalAssets *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return shares.Clone(), nil
	}
	return MulDivDown(shares, totalAssets, totalShares)
}

// SharePrice returns totalAssets*1e18/totalShares, or 1e18 for an empty vault.
func SharePrice(totalAssets, totalShares *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return Precision.Clone(), nil
	}
	return MulDivDown(totalAssets, Precision, totalShares)
}

// Sum adds every value in xs.
func Sum(xs ...*uint256.Int) (*uint256.Int, error) {
	total := Zero()
	for _, x := range xs {
		var err error
		if total, err = Add(total, x); err != nil {
			return nil, err
		}
	}
	return total, nil
}

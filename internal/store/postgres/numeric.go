package postgres

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Amounts travel as decimal text: written as strings into NUMERIC columns
// and read back through a ::text cast.

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func optDec(x *uint256.Int) *string {
	if x == nil {
		return nil
	}
	s := x.Dec()
	return &s
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return v, nil
}

func parseOptAmount(s *string) (*uint256.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseAmount(*s)
}

// parseAmounts fills dst[i] from src[i].
func parseAmounts(src []string, dst ...**uint256.Int) error {
	if len(src) != len(dst) {
		return fmt.Errorf("postgres: parse amounts: %d values for %d targets", len(src), len(dst))
	}
	for i := range src {
		v, err := parseAmount(src[i])
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}

func hexes(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func addresses(ss []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(ss))
	for _, s := range ss {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("postgres: bad address %q", s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func toInt64s(xs []uint64) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}

func toUint64s(xs []int64) []uint64 {
	out := make([]uint64, len(xs))
	for i, x := range xs {
		out[i] = uint64(x)
	}
	return out
}

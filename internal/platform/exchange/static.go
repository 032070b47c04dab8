// Package exchange implements domain.Exchange from a fixed rate table. It
// backs swap-converted assets in paper and staging deployments.
package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// Rate converts amountIn to amountIn * Num / Den of the output asset.
type Rate struct {
	Num *uint256.Int
	Den *uint256.Int
}

// Static quotes and swaps at configured rates. A swap fills at exactly the
// quote.
type Static struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

// NewStatic creates an exchange with no rates.
func NewStatic() *Static {
	return &Static{rates: make(map[string]Rate)}
}

func pairKey(in, out string) string { return in + "/" + out }

// SetRate sets the in->out rate.
func (s *Static) SetRate(in, out string, r Rate) error {
	if r.Num == nil || r.Den == nil || r.Den.IsZero() {
		return fmt.Errorf("exchange: rate %s: zero denominator", pairKey(in, out))
	}
	s.mu.Lock()
	s.rates[pairKey(in, out)] = Rate{Num: r.Num.Clone(), Den: r.Den.Clone()}
	s.mu.Unlock()
	return nil
}

func (s *Static) Quote(_ context.Context, in, out string, amountIn *uint256.Int) (*uint256.Int, error) {
	s.mu.RLock()
	r, ok := s.rates[pairKey(in, out)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange: no rate for %s: %w", pairKey(in, out), domain.ErrUnsupportedAsset)
	}
	prod, overflow := new(uint256.Int).MulOverflow(amountIn, r.Num)
	if overflow {
		return nil, fmt.Errorf("exchange: quote %s: %w", pairKey(in, out), domain.ErrInvariant)
	}
	return prod.Div(prod, r.Den), nil
}

func (s *Static) Swap(ctx context.Context, in, out string, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	got, err := s.Quote(ctx, in, out, amountIn)
	if err != nil {
		return nil, err
	}
	if minOut != nil && got.Lt(minOut) {
		return nil, fmt.Errorf("exchange: swap %s: %w", pairKey(in, out), domain.ErrSlippageExceeded)
	}
	return got, nil
}

var _ domain.Exchange = (*Static)(nil)

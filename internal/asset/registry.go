// Package asset tracks the input assets the vault accepts and normalizes
// deposits into the base unit of account.
package asset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/batch"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/journal"
	"github.com/alanyoungcy/prizevault/internal/sharemath"
)

// Registry is not safe for concurrent use; the vault serializes access.
type Registry struct {
	base     string
	assets   map[string]*domain.AssetInfo
	order    []string
	exchange domain.Exchange
	logger   *slog.Logger
}

// New returns a registry whose unit of account is base.
func New(base string, exchange domain.Exchange, logger *slog.Logger) *Registry {
	return &Registry{
		base:     base,
		assets:   make(map[string]*domain.AssetInfo),
		exchange: exchange,
		logger:   logger.With(slog.String("component", "asset_registry")),
	}
}

// Base is the symbol of the unit of account.
func (r *Registry) Base() string { return r.base }

// Restore loads persisted asset records.
func (r *Registry) Restore(infos []*domain.AssetInfo) {
	r.assets = make(map[string]*domain.AssetInfo, len(infos))
	r.order = r.order[:0]
	for _, a := range infos {
		r.assets[a.Symbol] = a.Clone()
		r.order = append(r.order, a.Symbol)
	}
}

// Get returns a copy of one asset record.
func (r *Registry) Get(symbol string) (*domain.AssetInfo, error) {
	a, ok := r.assets[symbol]
	if !ok {
		return nil, fmt.Errorf("asset: %q: %w", symbol, domain.ErrNotFound)
	}
	return a.Clone(), nil
}

// List returns copies of every record in registration order.
func (r *Registry) List() []*domain.AssetInfo {
	out := make([]*domain.AssetInfo, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.assets[s].Clone())
	}
	return out
}

func validateInfo(base string, info *domain.AssetInfo) error {
	if info.Symbol == "" {
		return fmt.Errorf("asset: empty symbol: %w", domain.ErrUnsupportedAsset)
	}
	switch info.Conversion {
	case domain.ConversionDirect, domain.ConversionSwap:
	default:
		return fmt.Errorf("asset: %q conversion %q: %w", info.Symbol, info.Conversion, domain.ErrUnsupportedAsset)
	}
	if info.Symbol == base && info.Conversion != domain.ConversionDirect {
		return fmt.Errorf("asset: base asset %q must convert directly: %w", base, domain.ErrUnsupportedAsset)
	}
	if info.SlippageBps > sharemath.BpsDenominator {
		return fmt.Errorf("asset: %q slippage %d bps: %w", info.Symbol, info.SlippageBps, domain.ErrInvalidWeight)
	}
	if info.MinDeposit == nil || info.MaxDeposit == nil {
		return fmt.Errorf("asset: %q: deposit bounds required", info.Symbol)
	}
	if !info.MaxDeposit.IsZero() && info.MinDeposit.Gt(info.MaxDeposit) {
		return fmt.Errorf("asset: %q min %s above max %s", info.Symbol, info.MinDeposit.Dec(), info.MaxDeposit.Dec())
	}
	return nil
}

// Upsert adds or replaces an asset record.
func (r *Registry) Upsert(tx *journal.Tx, info *domain.AssetInfo) error {
	if err := validateInfo(r.base, info); err != nil {
		return err
	}
	next := info.Clone()
	if cur, ok := r.assets[info.Symbol]; ok {
		saved := cur.Clone()
		*cur = *next
		tx.OnRollback(func() { *cur = *saved })
		tx.TouchAsset(cur)
		return nil
	}
	r.assets[info.Symbol] = next
	r.order = append(r.order, info.Symbol)
	tx.OnRollback(func() {
		delete(r.assets, info.Symbol)
		r.order = r.order[:len(r.order)-1]
	})
	tx.TouchAsset(next)
	return nil
}

// Validate checks that symbol is accepted and amount is within its bounds.
// A zero maximum means unbounded.
func (r *Registry) Validate(symbol string, amount *uint256.Int) (*domain.AssetInfo, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("asset: %w", domain.ErrZeroAmount)
	}
	a, ok := r.assets[symbol]
	if !ok || !a.Supported {
		return nil, fmt.Errorf("asset: %q: %w", symbol, domain.ErrUnsupportedAsset)
	}
	if amount.Lt(a.MinDeposit) {
		return nil, fmt.Errorf("asset: %s %s below %s: %w", amount.Dec(), symbol, a.MinDeposit.Dec(), domain.ErrBelowMinimum)
	}
	if !a.MaxDeposit.IsZero() && amount.Gt(a.MaxDeposit) {
		return nil, fmt.Errorf("asset: %s %s above %s: %w", amount.Dec(), symbol, a.MaxDeposit.Dec(), domain.ErrAboveMaximum)
	}
	return a.Clone(), nil
}

// Quote returns the expected base amount for amount of info and the minimum
// acceptable output under its slippage tolerance.
func (r *Registry) Quote(ctx context.Context, info *domain.AssetInfo, amount *uint256.Int) (expected, minOut *uint256.Int, err error) {
	if info.Conversion == domain.ConversionDirect {
		return amount.Clone(), amount.Clone(), nil
	}
	if r.exchange == nil {
		return nil, nil, fmt.Errorf("asset: %q needs an exchange: %w", info.Symbol, domain.ErrCollaborator)
	}
	quote, err := batch.Call(ctx, func(ctx context.Context) (*uint256.Int, error) {
		return r.exchange.Quote(ctx, info.Symbol, r.base, amount)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("asset: quote %s: %v: %w", info.Symbol, err, domain.ErrCollaborator)
	}
	if quote == nil || quote.IsZero() {
		return nil, nil, fmt.Errorf("asset: quote %s returned zero: %w", info.Symbol, domain.ErrCollaborator)
	}
	minOut, err = sharemath.Bps(quote, uint64(sharemath.BpsDenominator-info.SlippageBps))
	if err != nil {
		return nil, nil, err
	}
	return quote, minOut, nil
}

// Convert swaps amount of info into the base asset, requiring at least
// minOut. The actual output is returned.
func (r *Registry) Convert(ctx context.Context, info *domain.AssetInfo, amount, minOut *uint256.Int) (*uint256.Int, error) {
	if info.Conversion == domain.ConversionDirect {
		return amount.Clone(), nil
	}
	out, err := batch.Call(ctx, func(ctx context.Context) (*uint256.Int, error) {
		return r.exchange.Swap(ctx, info.Symbol, r.base, amount, minOut)
	})
	if err != nil {
		return nil, fmt.Errorf("asset: swap %s: %v: %w", info.Symbol, err, domain.ErrCollaborator)
	}
	if out == nil || out.Lt(minOut) {
		got := "nil"
		if out != nil {
			got = out.Dec()
		}
		return nil, fmt.Errorf("asset: swap %s returned %s, min %s: %w", info.Symbol, got, minOut.Dec(), domain.ErrSlippageExceeded)
	}
	r.logger.InfoContext(ctx, "asset converted",
		slog.String("asset", info.Symbol),
		slog.String("amount_in", amount.Dec()),
		slog.String("amount_out", out.Dec()),
		slog.String("min_out", minOut.Dec()),
	)
	return out, nil
}

// Precheck inspects a quoted deposit before any swap runs. expected is the
// quoted base amount and minOut the worst fill that will be accepted.
type Precheck func(info *domain.AssetInfo, expected, minOut *uint256.Int) error

// Normalized is a deposit converted into base units.
type Normalized struct {
	Asset    *domain.AssetInfo
	Credited *uint256.Int
}

// DepositAsset validates amount of symbol, quotes it, runs check and only
// then converts it into base units. A nil check accepts every quote.
func (r *Registry) DepositAsset(ctx context.Context, symbol string, amount *uint256.Int, check Precheck) (Normalized, error) {
	info, err := r.Validate(symbol, amount)
	if err != nil {
		return Normalized{}, err
	}
	expected, minOut, err := r.Quote(ctx, info, amount)
	if err != nil {
		return Normalized{}, err
	}
	if check != nil {
		if err := check(info, expected, minOut); err != nil {
			return Normalized{}, err
		}
	}
	credited, err := r.Convert(ctx, info, amount, minOut)
	if err != nil {
		return Normalized{}, err
	}
	return Normalized{Asset: info, Credited: credited}, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/keeper"
	"github.com/alanyoungcy/prizevault/internal/lottery"
	"github.com/alanyoungcy/prizevault/internal/risk"
	"github.com/alanyoungcy/prizevault/internal/strategy"
	"github.com/alanyoungcy/prizevault/internal/vault"
)

// VaultConfig converts the policy sections into the vault's runtime config.
// Call Validate first; parse failures here are reported but not aggregated.
func (c *Config) VaultConfig() (vault.Config, error) {
	out := vault.Config{
		BaseAsset: c.Vault.BaseAsset,
		Fees: harvest.FeeConfig{
			ManagementBps:  c.Fees.ManagementBps,
			PerformanceBps: c.Fees.PerformanceBps,
		},
		Risk: risk.Limits{
			MaxAllocationBps: c.Risk.MaxAllocationBps,
			MaxDrawdownBps:   c.Risk.MaxDrawdownBps,
			TierCapBps:       make(map[domain.RiskTier]uint32, len(c.Risk.TierCapBps)),
			MaxWithdrawalBps: c.Risk.MaxWithdrawalBps,
		},
		Allocator: allocator.Config{RebalanceThresholdBps: c.Allocator.RebalanceThresholdBps},
		Lottery: lottery.Config{
			RoundDuration: c.Lottery.RoundDuration.Duration,
			MinWinners:    c.Lottery.MinWinners,
			MaxWinners:    c.Lottery.MaxWinners,
		},
		WithdrawalDelay: c.Withdrawal.Delay.Duration,
		PersistTimeout:  c.Vault.PersistTimeout.Duration,
	}
	if c.Fees.Recipient != "" {
		out.Fees.Recipient = common.HexToAddress(c.Fees.Recipient)
	}
	for tier, bps := range c.Risk.TierCapBps {
		out.Risk.TierCapBps[domain.RiskTier(tier)] = bps
	}
	if c.Risk.MaxTotalAssets != "" {
		v, err := uint256.FromDecimal(c.Risk.MaxTotalAssets)
		if err != nil {
			return vault.Config{}, fmt.Errorf("config: risk.max_total_assets: %w", err)
		}
		out.Risk.MaxTotalAssets = v
	}

	for _, a := range c.Assets {
		info, err := a.AssetInfo()
		if err != nil {
			return vault.Config{}, err
		}
		out.Assets = append(out.Assets, info)
	}
	return out, nil
}

// AssetInfo converts one [[assets]] entry.
func (a AssetConfig) AssetInfo() (*domain.AssetInfo, error) {
	info := &domain.AssetInfo{
		Symbol:      a.Symbol,
		Decimals:    a.Decimals,
		Supported:   true,
		MinDeposit:  new(uint256.Int),
		MaxDeposit:  new(uint256.Int),
		Conversion:  domain.Conversion(a.Conversion),
		SlippageBps: a.SlippageBps,
	}
	if info.Conversion == "" {
		info.Conversion = domain.ConversionDirect
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *uint256.Int
	}{
		{"min_deposit", a.MinDeposit, info.MinDeposit},
		{"max_deposit", a.MaxDeposit, info.MaxDeposit},
	} {
		if f.src == "" {
			continue
		}
		v, err := uint256.FromDecimal(f.src)
		if err != nil {
			return nil, fmt.Errorf("config: asset %s: %s: %w", a.Symbol, f.name, err)
		}
		f.dst.Set(v)
	}
	return info, nil
}

// ParseRate parses a "num/den" swap rate.
func ParseRate(s string) (*uint256.Int, *uint256.Int, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return nil, nil, fmt.Errorf("rate %q must be num/den", s)
	}
	n, err := uint256.FromDecimal(strings.TrimSpace(num))
	if err != nil {
		return nil, nil, fmt.Errorf("rate %q: numerator: %w", s, err)
	}
	d, err := uint256.FromDecimal(strings.TrimSpace(den))
	if err != nil {
		return nil, nil, fmt.Errorf("rate %q: denominator: %w", s, err)
	}
	if d.IsZero() {
		return nil, nil, fmt.Errorf("rate %q: zero denominator", s)
	}
	return n, d, nil
}

// Registration converts one [[strategies]] entry into allocator and adapter
// configuration.
func (s StrategyConfig) Registration() (allocator.Registration, strategy.Config) {
	return allocator.Registration{
			ID:        s.ID,
			Kind:      s.Kind,
			WeightBps: s.WeightBps,
			Tier:      domain.RiskTier(s.RiskTier),
		}, strategy.Config{
			ID:     s.ID,
			Kind:   s.Kind,
			Params: s.Params,
		}
}

// KeeperConfig converts the keeper section.
func (c *Config) KeeperConfig() keeper.Config {
	return keeper.Config{
		HarvestInterval:   c.Keeper.HarvestInterval.Duration,
		RebalanceInterval: c.Keeper.RebalanceInterval.Duration,
		ReportInterval:    c.Keeper.ReportInterval.Duration,
		FinalizeInterval:  c.Keeper.FinalizeInterval.Duration,
		Winners:           c.Keeper.Winners,
		ArchiveCron:       c.Keeper.ArchiveCron,
		ArchiveRetention:  time.Duration(c.Keeper.ArchiveRetentionDays) * 24 * time.Hour,
		LeaseTTL:          c.Keeper.LeaseTTL.Duration,
	}
}

// Principals maps each configured API key to its principal.
func (c *Config) Principals() (map[string]domain.Principal, error) {
	out := make(map[string]domain.Principal, len(c.Server.APIKeys))
	for _, k := range c.Server.APIKeys {
		caps := make([]domain.Capability, 0, len(k.Capabilities))
		for _, name := range k.Capabilities {
			cp, err := domain.ParseCapability(name)
			if err != nil {
				return nil, fmt.Errorf("config: api key %s: %w", k.ID, err)
			}
			caps = append(caps, cp)
		}
		out[k.Key] = domain.NewPrincipal(k.ID, caps...)
	}
	return out, nil
}

// AdminPrincipal is the all-capability principal used to register
// configured strategies at first boot.
func (c *Config) AdminPrincipal() domain.Principal {
	return domain.NewPrincipal(c.Vault.Admin, domain.AllCapabilities...)
}

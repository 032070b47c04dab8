package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

const sample = `
mode = "keeper"

[vault]
base_asset = "USDC"

[fees]
management_bps = 50
performance_bps = 1000
recipient = "0x000000000000000000000000000000000000fee5"

[risk]
max_total_assets = "5000000000"

[risk.tier_cap_bps]
low = 10000
high = 2000

[lottery]
round_duration = "1h"
min_winners = 1
max_winners = 5

[withdrawal]
delay = "30m"

[[assets]]
symbol = "USDC"
decimals = 6
min_deposit = "100"
conversion = "direct"

[[assets]]
symbol = "DAI"
decimals = 18
conversion = "swap"
slippage_bps = 50
rate = "1/1000000000000"

[[strategies]]
id = "sim"
kind = "simulated"
weight_bps = 5000
risk_tier = "low"
[strategies.params]
apr_bps = "500"

[keeper]
winners = 2
archive_retention_days = 30

[[server.api_keys]]
id = "ops"
key = "secret-ops"
capabilities = ["pause", "keeper"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.Lottery.RoundDuration.Duration)
	assert.Equal(t, 8000, cfg.Server.Port)
	require.Len(t, cfg.Assets, 2)
	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "500", cfg.Strategies[0].Params["apr_bps"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRIZEVAULT_MODE", "server")
	t.Setenv("PRIZEVAULT_SERVER_PORT", "9100")
	t.Setenv("PRIZEVAULT_WITHDRAWAL_DELAY", "2h")
	t.Setenv("PRIZEVAULT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Withdrawal.Delay.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Fees.ManagementBps = 100
	cfg.Lottery.MinWinners = 0
	cfg.Keeper.ArchiveCron = "not a cron"
	cfg.Strategies = []StrategyConfig{
		{ID: "a", Kind: "simulated", WeightBps: 6000, RiskTier: "low"},
		{ID: "a", Kind: "simulated", WeightBps: 6000, RiskTier: "extreme"},
	}
	cfg.Server.APIKeys = []APIKeyConfig{{ID: "x", Key: "k", Capabilities: []string{"root"}}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"fees: recipient",
		"lottery: need",
		"keeper: archive_cron",
		`duplicate id "a"`,
		`unknown risk_tier "extreme"`,
		"weights sum to 12000",
		`unknown capability "root"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRequiresBaseAsset(t *testing.T) {
	cfg := Defaults()
	cfg.Vault.BaseAsset = "USDT"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `base asset "USDT" must be listed`)
}

func TestVaultConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	vc, err := cfg.VaultConfig()
	require.NoError(t, err)
	assert.Equal(t, "USDC", vc.BaseAsset)
	assert.Equal(t, common.HexToAddress("0x000000000000000000000000000000000000fee5"), vc.Fees.Recipient)
	assert.Equal(t, uint32(2000), vc.Risk.TierCapBps[domain.RiskTierHigh])
	assert.Equal(t, uint64(5_000_000_000), vc.Risk.MaxTotalAssets.Uint64())
	assert.Equal(t, 30*time.Minute, vc.WithdrawalDelay)
	require.Len(t, vc.Assets, 2)
	assert.Equal(t, uint64(100), vc.Assets[0].MinDeposit.Uint64())
	assert.True(t, vc.Assets[0].MaxDeposit.IsZero())
	assert.Equal(t, domain.ConversionSwap, vc.Assets[1].Conversion)

	kc := cfg.KeeperConfig()
	assert.Equal(t, 2, kc.Winners)
	assert.Equal(t, 30*24*time.Hour, kc.ArchiveRetention)

	reg, sc := cfg.Strategies[0].Registration()
	assert.Equal(t, "sim", reg.ID)
	assert.Equal(t, domain.RiskTierLow, reg.Tier)
	assert.Equal(t, "simulated", sc.Kind)
}

func TestParseRate(t *testing.T) {
	n, d, err := ParseRate("3 / 4")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n.Uint64())
	assert.Equal(t, uint64(4), d.Uint64())

	for _, bad := range []string{"", "3", "3/0", "x/1", "1/-2"} {
		_, _, err := ParseRate(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrincipals(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	keys, err := cfg.Principals()
	require.NoError(t, err)
	p, ok := keys["secret-ops"]
	require.True(t, ok)
	assert.Equal(t, "ops", p.ID)
	assert.NoError(t, p.Require(domain.CapPause))
	assert.ErrorIs(t, p.Require(domain.CapFees), domain.ErrUnauthorized)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "pw"
	cfg.Server.APIKeys = []APIKeyConfig{{ID: "ops", Key: "secret"}}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Supabase.Password)
	assert.Equal(t, "***", out.Server.APIKeys[0].Key)
	assert.Equal(t, "", out.Supabase.DSN)
	assert.Equal(t, "secret", cfg.Server.APIKeys[0].Key)
	assert.Equal(t, "pw", cfg.Supabase.Password)
}

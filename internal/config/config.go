// Package config defines the top-level configuration for the prize vault
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRIZEVAULT_* environment variables.
type Config struct {
	Vault      VaultConfig      `toml:"vault"`
	Fees       FeesConfig       `toml:"fees"`
	Risk       RiskConfig       `toml:"risk"`
	Allocator  AllocatorConfig  `toml:"allocator"`
	Lottery    LotteryConfig    `toml:"lottery"`
	Withdrawal WithdrawalConfig `toml:"withdrawal"`
	Assets     []AssetConfig    `toml:"assets"`
	Strategies []StrategyConfig `toml:"strategies"`
	Keeper     KeeperConfig     `toml:"keeper"`
	Randomness RandomnessConfig `toml:"randomness"`
	Chain      ChainConfig      `toml:"chain"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// VaultConfig names the unit of account.
type VaultConfig struct {
	BaseAsset      string   `toml:"base_asset"`
	PersistTimeout duration `toml:"persist_timeout"`
	// Admin is the principal ID used for bootstrap registrations.
	Admin string `toml:"admin"`
}

// FeesConfig holds harvest fee rates.
type FeesConfig struct {
	ManagementBps  uint32 `toml:"management_bps"`
	PerformanceBps uint32 `toml:"performance_bps"`
	Recipient      string `toml:"recipient"`
}

// RiskConfig holds risk gate limits. MaxTotalAssets is a decimal string in
// base units; empty means uncapped.
type RiskConfig struct {
	MaxAllocationBps uint32            `toml:"max_allocation_bps"`
	MaxDrawdownBps   uint32            `toml:"max_drawdown_bps"`
	TierCapBps       map[string]uint32 `toml:"tier_cap_bps"`
	MaxTotalAssets   string            `toml:"max_total_assets"`
	MaxWithdrawalBps uint32            `toml:"max_withdrawal_bps"`
}

// AllocatorConfig holds rebalance tuning.
type AllocatorConfig struct {
	RebalanceThresholdBps uint32 `toml:"rebalance_threshold_bps"`
}

// LotteryConfig holds round parameters.
type LotteryConfig struct {
	RoundDuration duration `toml:"round_duration"`
	MinWinners    int      `toml:"min_winners"`
	MaxWinners    int      `toml:"max_winners"`
}

// WithdrawalConfig holds the request-to-withdraw delay.
type WithdrawalConfig struct {
	Delay duration `toml:"delay"`
}

// AssetConfig describes one accepted deposit asset.
type AssetConfig struct {
	Symbol      string `toml:"symbol"`
	Decimals    uint8  `toml:"decimals"`
	MinDeposit  string `toml:"min_deposit"`
	MaxDeposit  string `toml:"max_deposit"`
	Conversion  string `toml:"conversion"`
	SlippageBps uint32 `toml:"slippage_bps"`
	// Rate is the swap price into the base asset as "num/den".
	Rate string `toml:"rate"`
}

// StrategyConfig declares one yield adapter registered at first boot.
type StrategyConfig struct {
	ID        string            `toml:"id"`
	Kind      string            `toml:"kind"`
	WeightBps uint32            `toml:"weight_bps"`
	RiskTier  string            `toml:"risk_tier"`
	Params    map[string]string `toml:"params"`
}

// KeeperConfig holds the maintenance loop schedule.
type KeeperConfig struct {
	HarvestInterval      duration `toml:"harvest_interval"`
	RebalanceInterval    duration `toml:"rebalance_interval"`
	ReportInterval       duration `toml:"report_interval"`
	FinalizeInterval     duration `toml:"finalize_interval"`
	Winners              int      `toml:"winners"`
	ArchiveCron          string   `toml:"archive_cron"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	LeaseTTL             duration `toml:"lease_ttl"`
}

// RandomnessConfig selects the randomness oracle.
type RandomnessConfig struct {
	// Source is "drand" or "local".
	Source    string `toml:"source"`
	DrandURL  string `toml:"drand_url"`
	ChainHash string `toml:"chain_hash"`
}

// ChainConfig selects the entropy source. An empty RPCURL uses local entropy.
type ChainConfig struct {
	RPCURL  string   `toml:"rpc_url"`
	Timeout duration `toml:"timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// APIKeyConfig binds an API key to a principal and its capabilities.
type APIKeyConfig struct {
	ID           string   `toml:"id"`
	Key          string   `toml:"key"`
	Capabilities []string `toml:"capabilities"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool           `toml:"enabled"`
	Port        int            `toml:"port"`
	CORSOrigins []string       `toml:"cors_origins"`
	APIKeys     []APIKeyConfig `toml:"api_keys"`
	RateLimit   int            `toml:"rate_limit"`
	RateWindow  duration       `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Vault: VaultConfig{
			BaseAsset:      "USDC",
			PersistTimeout: duration{10 * time.Second},
			Admin:          "bootstrap",
		},
		Risk: RiskConfig{
			MaxAllocationBps: 10_000,
			MaxDrawdownBps:   10_000,
			TierCapBps: map[string]uint32{
				string(domain.RiskTierLow):    10_000,
				string(domain.RiskTierMedium): 10_000,
				string(domain.RiskTierHigh):   10_000,
			},
			MaxWithdrawalBps: 10_000,
		},
		Allocator: AllocatorConfig{RebalanceThresholdBps: 500},
		Lottery: LotteryConfig{
			RoundDuration: duration{7 * 24 * time.Hour},
			MinWinners:    1,
			MaxWinners:    10,
		},
		Withdrawal: WithdrawalConfig{Delay: duration{24 * time.Hour}},
		Assets: []AssetConfig{
			{Symbol: "USDC", Decimals: 6, MinDeposit: "1000000", Conversion: string(domain.ConversionDirect)},
		},
		Keeper: KeeperConfig{
			HarvestInterval:      duration{time.Hour},
			RebalanceInterval:    duration{6 * time.Hour},
			ReportInterval:       duration{15 * time.Minute},
			FinalizeInterval:     duration{time.Minute},
			Winners:              1,
			ArchiveCron:          "0 3 1 * *",
			ArchiveRetentionDays: 90,
			LeaseTTL:             duration{30 * time.Second},
		},
		Randomness: RandomnessConfig{
			Source:   "drand",
			DrandURL: "https://api.drand.sh",
		},
		Chain: ChainConfig{Timeout: duration{10 * time.Second}},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "prizevault-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				string(domain.EventRoundFinalized),
				string(domain.EventStrategyFailure),
				string(domain.EventEmergencyExit),
				string(domain.EventPaused),
				string(domain.EventUnpaused),
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"keeper": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: keeper, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Vault policy
	if c.Vault.BaseAsset == "" {
		errs = append(errs, "vault: base_asset must not be empty")
	}
	if c.Fees.ManagementBps > 10_000 || c.Fees.PerformanceBps > 10_000 {
		errs = append(errs, "fees: rates must not exceed 10000 bps")
	}
	if c.Fees.ManagementBps+c.Fees.PerformanceBps > 0 && !common.IsHexAddress(c.Fees.Recipient) {
		errs = append(errs, "fees: recipient must be a hex address when a fee is charged")
	}
	for tier := range c.Risk.TierCapBps {
		if !domain.RiskTier(tier).Valid() {
			errs = append(errs, fmt.Sprintf("risk: unknown tier %q in tier_cap_bps", tier))
		}
	}
	if c.Risk.MaxTotalAssets != "" {
		if _, err := uint256.FromDecimal(c.Risk.MaxTotalAssets); err != nil {
			errs = append(errs, fmt.Sprintf("risk: max_total_assets %q is not a base-unit integer", c.Risk.MaxTotalAssets))
		}
	}
	if c.Lottery.RoundDuration.Duration <= 0 {
		errs = append(errs, "lottery: round_duration must be > 0")
	}
	if c.Lottery.MinWinners < 1 || c.Lottery.MaxWinners < c.Lottery.MinWinners {
		errs = append(errs, "lottery: need 1 <= min_winners <= max_winners")
	}
	if c.Withdrawal.Delay.Duration < 0 {
		errs = append(errs, "withdrawal: delay must not be negative")
	}

	// Assets
	base := false
	seen := make(map[string]bool, len(c.Assets))
	for i, a := range c.Assets {
		if a.Symbol == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: symbol must not be empty", i))
			continue
		}
		if seen[a.Symbol] {
			errs = append(errs, fmt.Sprintf("assets[%d]: duplicate symbol %q", i, a.Symbol))
		}
		seen[a.Symbol] = true
		base = base || a.Symbol == c.Vault.BaseAsset
		switch domain.Conversion(a.Conversion) {
		case domain.ConversionDirect:
		case domain.ConversionSwap:
			if _, _, err := ParseRate(a.Rate); err != nil {
				errs = append(errs, fmt.Sprintf("assets[%d]: %v", i, err))
			}
		default:
			errs = append(errs, fmt.Sprintf("assets[%d]: conversion must be direct or swap, got %q", i, a.Conversion))
		}
		for field, v := range map[string]string{"min_deposit": a.MinDeposit, "max_deposit": a.MaxDeposit} {
			if v == "" {
				continue
			}
			if _, err := uint256.FromDecimal(v); err != nil {
				errs = append(errs, fmt.Sprintf("assets[%d]: %s %q is not a base-unit integer", i, field, v))
			}
		}
	}
	if c.Vault.BaseAsset != "" && !base {
		errs = append(errs, fmt.Sprintf("assets: base asset %q must be listed", c.Vault.BaseAsset))
	}

	// Strategies
	ids := make(map[string]bool, len(c.Strategies))
	var weights uint32
	for i, s := range c.Strategies {
		if s.ID == "" || s.Kind == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: id and kind are required", i))
		}
		if ids[s.ID] {
			errs = append(errs, fmt.Sprintf("strategies[%d]: duplicate id %q", i, s.ID))
		}
		ids[s.ID] = true
		if !domain.RiskTier(s.RiskTier).Valid() {
			errs = append(errs, fmt.Sprintf("strategies[%d]: unknown risk_tier %q", i, s.RiskTier))
		}
		weights += s.WeightBps
	}
	if weights > domain.MaxWeightBps {
		errs = append(errs, fmt.Sprintf("strategies: weights sum to %d bps, above %d", weights, domain.MaxWeightBps))
	}

	// Keeper
	if c.Keeper.Winners < 1 {
		errs = append(errs, "keeper: winners must be >= 1")
	}
	if c.Keeper.ArchiveCron != "" {
		if _, err := cron.ParseStandard(c.Keeper.ArchiveCron); err != nil {
			errs = append(errs, fmt.Sprintf("keeper: archive_cron %q: %v", c.Keeper.ArchiveCron, err))
		}
	}

	// Randomness
	switch c.Randomness.Source {
	case "local":
	case "drand":
		if _, err := url.ParseRequestURI(c.Randomness.DrandURL); err != nil {
			errs = append(errs, "randomness: drand_url must be an absolute URL")
		}
	default:
		errs = append(errs, fmt.Sprintf("randomness: source must be drand or local, got %q", c.Randomness.Source))
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		keys := make(map[string]bool, len(c.Server.APIKeys))
		for i, k := range c.Server.APIKeys {
			if k.ID == "" || k.Key == "" {
				errs = append(errs, fmt.Sprintf("server.api_keys[%d]: id and key are required", i))
			}
			if keys[k.Key] {
				errs = append(errs, fmt.Sprintf("server.api_keys[%d]: duplicate key", i))
			}
			keys[k.Key] = true
			for _, c := range k.Capabilities {
				if _, err := domain.ParseCapability(c); err != nil {
					errs = append(errs, fmt.Sprintf("server.api_keys[%d]: %v", i, err))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

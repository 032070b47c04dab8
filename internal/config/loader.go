package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PRIZEVAULT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PRIZEVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Vault ──
	setStr(&cfg.Vault.BaseAsset, "PRIZEVAULT_VAULT_BASE_ASSET")
	setStr(&cfg.Fees.Recipient, "PRIZEVAULT_FEES_RECIPIENT")
	setDuration(&cfg.Withdrawal.Delay, "PRIZEVAULT_WITHDRAWAL_DELAY")
	setDuration(&cfg.Lottery.RoundDuration, "PRIZEVAULT_LOTTERY_ROUND_DURATION")

	// ── Keeper ──
	setDuration(&cfg.Keeper.HarvestInterval, "PRIZEVAULT_KEEPER_HARVEST_INTERVAL")
	setDuration(&cfg.Keeper.RebalanceInterval, "PRIZEVAULT_KEEPER_REBALANCE_INTERVAL")
	setDuration(&cfg.Keeper.FinalizeInterval, "PRIZEVAULT_KEEPER_FINALIZE_INTERVAL")
	setInt(&cfg.Keeper.Winners, "PRIZEVAULT_KEEPER_WINNERS")
	setStr(&cfg.Keeper.ArchiveCron, "PRIZEVAULT_KEEPER_ARCHIVE_CRON")
	setInt(&cfg.Keeper.ArchiveRetentionDays, "PRIZEVAULT_KEEPER_ARCHIVE_RETENTION_DAYS")

	// ── Randomness / chain ──
	setStr(&cfg.Randomness.Source, "PRIZEVAULT_RANDOMNESS_SOURCE")
	setStr(&cfg.Randomness.DrandURL, "PRIZEVAULT_RANDOMNESS_DRAND_URL")
	setStr(&cfg.Randomness.ChainHash, "PRIZEVAULT_RANDOMNESS_CHAIN_HASH")
	setStr(&cfg.Chain.RPCURL, "PRIZEVAULT_CHAIN_RPC_URL")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "PRIZEVAULT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // platform-provided alias
	setStr(&cfg.Supabase.Host, "PRIZEVAULT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PRIZEVAULT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PRIZEVAULT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PRIZEVAULT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PRIZEVAULT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PRIZEVAULT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "PRIZEVAULT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "PRIZEVAULT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "PRIZEVAULT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PRIZEVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRIZEVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRIZEVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRIZEVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRIZEVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRIZEVAULT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PRIZEVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRIZEVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRIZEVAULT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PRIZEVAULT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PRIZEVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRIZEVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRIZEVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRIZEVAULT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PRIZEVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PRIZEVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PRIZEVAULT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PRIZEVAULT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PRIZEVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRIZEVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRIZEVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRIZEVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRIZEVAULT_MODE")
	setStr(&cfg.LogLevel, "PRIZEVAULT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

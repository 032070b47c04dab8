package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/prizevault/internal/blob/s3"
	"github.com/alanyoungcy/prizevault/internal/cache/redis"
	"github.com/alanyoungcy/prizevault/internal/config"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/notify"
	"github.com/alanyoungcy/prizevault/internal/platform/chain"
	"github.com/alanyoungcy/prizevault/internal/platform/custody"
	"github.com/alanyoungcy/prizevault/internal/platform/exchange"
	"github.com/alanyoungcy/prizevault/internal/platform/randomness"
	"github.com/alanyoungcy/prizevault/internal/server/handler"
	"github.com/alanyoungcy/prizevault/internal/store/postgres"
)

// archiveBatch is the number of events written per archive object.
const archiveBatch = 5000

// Dependencies bundles every infrastructure dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	VaultStore domain.VaultStore
	EventStore domain.EventStore
	AuditStore domain.AuditStore

	// Redis
	Leases      domain.LeaseManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage; nil when no bucket is configured.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Collaborators
	Oracle    domain.RandomnessOracle
	Entropy   domain.EntropySource
	Exchange  domain.Exchange
	Custodian domain.Custodian

	Notifier *notify.Notifier

	// Checks back the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.VaultStore = postgres.NewVaultStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pool.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Leases = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, redis.BusConfig{})
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 blob storage (optional) ---
	if cfg.S3.Bucket != "" {
		bucket, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = bucket.Close() })

		deps.BlobReader = bucket
		deps.Archiver = s3blob.NewEventArchiver(
			bucket,
			bucket,
			deps.EventStore,
			deps.AuditStore,
			archiveBatch,
			logger,
		)
		deps.Checks["s3"] = bucket.Health
	}

	// --- Randomness and entropy ---
	switch cfg.Randomness.Source {
	case "drand":
		deps.Oracle = randomness.NewDrandClient(cfg.Randomness.DrandURL, cfg.Randomness.ChainHash)
	default:
		deps.Oracle = randomness.Local{}
	}
	if cfg.Chain.RPCURL != "" {
		be, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.Timeout.Duration)
		if err != nil {
			return fail(fmt.Errorf("wire: chain: %w", err))
		}
		closers = append(closers, be.Close)
		deps.Entropy = be
	} else {
		deps.Entropy = chain.LocalEntropy{}
	}

	// --- Exchange rates for swap-converted assets ---
	ex := exchange.NewStatic()
	for _, a := range cfg.Assets {
		if domain.Conversion(a.Conversion) != domain.ConversionSwap {
			continue
		}
		num, den, err := config.ParseRate(a.Rate)
		if err != nil {
			return fail(fmt.Errorf("wire: asset %s: %w", a.Symbol, err))
		}
		if err := ex.SetRate(a.Symbol, cfg.Vault.BaseAsset, exchange.Rate{Num: num, Den: den}); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
	}
	deps.Exchange = ex
	deps.Custodian = custody.NewPaper(deps.AuditStore, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		senders = append(senders, notify.NewLogSender(logger))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

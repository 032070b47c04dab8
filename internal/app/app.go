// Package app provides the top-level application lifecycle management for the
// prize vault. It wires together all dependencies (stores, caches, blob
// storage, collaborators, the vault itself and notifications) and starts the
// appropriate goroutines based on the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/config"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/notify"
	"github.com/alanyoungcy/prizevault/internal/service"
	"github.com/alanyoungcy/prizevault/internal/strategy"
	"github.com/alanyoungcy/prizevault/internal/vault"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run is the main entry point. It wires all dependencies, restores the vault,
// selects the operating mode, and blocks until the context is cancelled. On
// return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	registry := strategy.DefaultRegistry()
	v, err := a.buildVault(ctx, deps, registry)
	if err != nil {
		return fmt.Errorf("app: build vault: %w", err)
	}

	err = a.runMode(ctx, deps, v, registry)

	// Write out any changeset whose persistence failed during the run.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := v.Flush(flushCtx); ferr != nil {
		a.logger.Error("final vault flush failed", slog.String("error", ferr.Error()))
	}
	return err
}

func (a *App) runMode(ctx context.Context, deps *Dependencies, v *vault.Vault, registry *strategy.Registry) error {
	switch strings.ToLower(a.cfg.Mode) {
	case "keeper":
		return a.KeeperMode(ctx, deps, v)
	case "server":
		return a.ServerMode(ctx, deps, v, registry)
	case "full":
		return a.FullMode(ctx, deps, v, registry)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildVault constructs the vault, restores persisted state and attaches an
// adapter to every strategy.
func (a *App) buildVault(ctx context.Context, deps *Dependencies, registry *strategy.Registry) (*vault.Vault, error) {
	vc, err := a.cfg.VaultConfig()
	if err != nil {
		return nil, err
	}

	var decimals uint8
	for _, asset := range vc.Assets {
		if asset.Symbol == vc.BaseAsset {
			decimals = asset.Decimals
		}
	}

	vaultLogger := a.logger.With(slog.String("vault", vc.BaseAsset))
	v, err := vault.New(vc, vault.Collaborators{
		Oracle:    deps.Oracle,
		Entropy:   deps.Entropy,
		Exchange:  deps.Exchange,
		Custodian: deps.Custodian,
	},
		vault.WithStore(deps.VaultStore),
		vault.WithSink(service.NewEventPublisher(deps.SignalBus, a.logger)),
		vault.WithSink(notify.NewEventNotifier(deps.Notifier, vc.BaseAsset, decimals)),
		vault.WithLogger(vaultLogger),
	)
	if err != nil {
		return nil, err
	}
	if err := v.Load(ctx); err != nil {
		return nil, err
	}
	if err := a.attachStrategies(ctx, v, registry); err != nil {
		return nil, err
	}
	return v, nil
}

// restorable adapters can resume from a persisted balance.
type restorable interface {
	Restore(balance *uint256.Int)
}

// attachStrategies registers configured strategies that are new and
// re-attaches adapters for every persisted one. Strategies registered at
// runtime are rebuilt from their kind with default parameters.
func (a *App) attachStrategies(ctx context.Context, v *vault.Vault, registry *strategy.Registry) error {
	env := strategy.Env{Now: time.Now, Logger: a.logger}
	admin := a.cfg.AdminPrincipal()
	configured := make(map[string]bool, len(a.cfg.Strategies))

	for _, sc := range a.cfg.Strategies {
		configured[sc.ID] = true
		reg, adapterCfg := sc.Registration()
		adapter, err := registry.Build(adapterCfg, env)
		if err != nil {
			return err
		}

		info, err := v.Strategy(sc.ID)
		switch {
		case err == nil:
			if r, ok := adapter.(restorable); ok {
				r.Restore(info.Principal)
			}
			if err := v.AttachStrategy(sc.ID, adapter); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrNotFound):
			if err := v.RegisterStrategy(ctx, admin, reg, adapter); err != nil {
				return fmt.Errorf("register %s: %w", sc.ID, err)
			}
			a.logger.InfoContext(ctx, "strategy registered from config",
				slog.String("strategy", sc.ID),
				slog.String("kind", sc.Kind),
			)
		default:
			return err
		}
	}

	for _, info := range v.Strategies() {
		if configured[info.ID] {
			continue
		}
		adapter, err := registry.Build(strategy.Config{ID: info.ID, Kind: info.Kind}, env)
		if err != nil {
			a.logger.WarnContext(ctx, "persisted strategy has no adapter",
				slog.String("strategy", info.ID),
				slog.String("kind", info.Kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		if r, ok := adapter.(restorable); ok {
			r.Restore(info.Principal)
		}
		if err := v.AttachStrategy(info.ID, adapter); err != nil {
			return err
		}
	}
	return nil
}

package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/keeper"
	"github.com/alanyoungcy/prizevault/internal/server"
	"github.com/alanyoungcy/prizevault/internal/server/handler"
	"github.com/alanyoungcy/prizevault/internal/server/ws"
	"github.com/alanyoungcy/prizevault/internal/service"
	"github.com/alanyoungcy/prizevault/internal/strategy"
	"github.com/alanyoungcy/prizevault/internal/vault"
)

// keeperPrincipal is the identity scheduled maintenance runs as.
var keeperPrincipal = domain.NewPrincipal("keeper", domain.CapKeeper)

// KeeperMode runs the scheduled harvest, rebalance, report, finalize and
// archive loops. It returns when the context is cancelled or the writer lease
// is lost.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies, v *vault.Vault) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps, v)
	return g.Wait()
}

// ServerMode serves the HTTP API and WebSocket event stream without the
// scheduled loops.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, v *vault.Vault, registry *strategy.Registry) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, v, registry)
	return g.Wait()
}

// FullMode runs the keeper and the HTTP server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, v *vault.Vault, registry *strategy.Registry) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps, v)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, v, registry)
	}
	return g.Wait()
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, v *vault.Vault) {
	k := keeper.New(v, deps.Archiver, deps.Leases, keeperPrincipal, a.cfg.KeeperConfig(), a.logger)
	g.Go(func() error {
		return k.Run(ctx)
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub to the errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, v *vault.Vault, registry *strategy.Registry) {
	principals, err := a.cfg.Principals()
	if err != nil {
		g.Go(func() error { return err })
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	env := strategy.Env{Now: time.Now, Logger: a.logger}
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Checks, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, a.startedAt, v),
		Vault:      handler.NewVaultHandler(v, a.logger),
		Accounts:   handler.NewAccountHandler(v, a.logger),
		Rounds:     handler.NewRoundHandler(v, a.logger),
		Strategies: handler.NewStrategyHandler(v, registry, env, a.logger),
		Admin:      handler.NewAdminHandler(v, a.logger),
		Keeper:     handler.NewKeeperHandler(v, a.logger),
		History:    handler.NewHistoryHandler(service.NewHistoryService(deps.EventStore, deps.AuditStore, a.logger), a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     principals,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// Package server is the HTTP + WebSocket API of the prize vault.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/server/handler"
	"github.com/alanyoungcy/prizevault/internal/server/middleware"
	"github.com/alanyoungcy/prizevault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeys maps each accepted key to the principal it authenticates.
	APIKeys    map[string]domain.Principal
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Archive may be nil when object storage is not configured.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Vault      *handler.VaultHandler
	Accounts   *handler.AccountHandler
	Rounds     *handler.RoundHandler
	Strategies *handler.StrategyHandler
	Admin      *handler.AdminHandler
	Keeper     *handler.KeeperHandler
	History    *handler.HistoryHandler
	Archive    *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. limiter and wsHub
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }

	// Public reads.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/vault", handlers.Vault.GetVault)
	mux.HandleFunc("GET /api/vault/convert", handlers.Vault.Convert)
	mux.HandleFunc("GET /api/assets", handlers.Admin.ListAssets)
	mux.HandleFunc("GET /api/positions", handlers.Accounts.ListPositions)
	mux.HandleFunc("GET /api/positions/{owner}", handlers.Accounts.GetPosition)
	mux.HandleFunc("GET /api/withdrawals/preview", handlers.Accounts.PreviewWithdraw)
	mux.HandleFunc("GET /api/rounds", handlers.Rounds.ListRounds)
	mux.HandleFunc("GET /api/rounds/current", handlers.Rounds.GetCurrentRound)
	mux.HandleFunc("GET /api/rounds/{id}", handlers.Rounds.GetRound)
	mux.HandleFunc("GET /api/strategies", handlers.Strategies.ListStrategies)
	mux.HandleFunc("GET /api/strategies/{id}", handlers.Strategies.GetStrategy)
	mux.HandleFunc("GET /api/events", handlers.History.ListEvents)

	// Participant writes arrive through an authenticated relay.
	mux.Handle("POST /api/deposits", authed(handlers.Accounts.Deposit))
	mux.Handle("POST /api/withdrawals/requests", authed(handlers.Accounts.RequestWithdrawal))
	mux.Handle("DELETE /api/withdrawals/requests/{owner}", authed(handlers.Accounts.CancelWithdrawal))
	mux.Handle("POST /api/withdrawals", authed(handlers.Accounts.Withdraw))
	mux.Handle("POST /api/rounds/{id}/claims", authed(handlers.Accounts.ClaimPrize))

	// Capability-checked operations; the vault enforces the capability.
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/unpause", handlers.Admin.Unpause)
	mux.HandleFunc("PUT /api/admin/fees", handlers.Admin.SetFees)
	mux.HandleFunc("PUT /api/admin/risk", handlers.Admin.SetRiskLimits)
	mux.HandleFunc("PUT /api/admin/withdrawal-delay", handlers.Admin.SetWithdrawalDelay)
	mux.HandleFunc("PUT /api/admin/allocator", handlers.Admin.SetAllocatorConfig)
	mux.HandleFunc("PUT /api/admin/lottery", handlers.Admin.SetLotteryConfig)
	mux.HandleFunc("PUT /api/admin/assets/{symbol}", handlers.Admin.SetAsset)
	mux.HandleFunc("POST /api/admin/strategies", handlers.Strategies.RegisterStrategy)
	mux.HandleFunc("PUT /api/admin/strategies/{id}/weight", handlers.Strategies.UpdateWeight)
	mux.HandleFunc("DELETE /api/admin/strategies/{id}", handlers.Strategies.RemoveStrategy)
	mux.HandleFunc("POST /api/admin/strategies/{id}/exit", handlers.Strategies.EmergencyExit)
	mux.HandleFunc("POST /api/keeper/strategies/{id}/deploy", handlers.Strategies.Deploy)
	mux.HandleFunc("POST /api/keeper/harvest", handlers.Keeper.Harvest)
	mux.HandleFunc("POST /api/keeper/rebalance", handlers.Keeper.Rebalance)
	mux.HandleFunc("POST /api/keeper/report", handlers.Keeper.Report)
	mux.HandleFunc("POST /api/keeper/rounds/{id}/finalize", handlers.Keeper.FinalizeRound)

	mux.Handle("GET /api/audit", authed(handlers.History.ListAudit))
	if handlers.Archive != nil {
		mux.Handle("GET /api/archives", authed(handlers.Archive.ListArchives))
		mux.Handle("GET /api/archives/object", authed(handlers.Archive.GetArchive))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Auth runs before logging and rate limiting so both see the principal.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Auth(cfg.APIKeys)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler exposes the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

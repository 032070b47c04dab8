// Package strategy builds yield adapters from configuration. Adapters
// implement domain.Strategy; the allocator owns their bookkeeping.
package strategy

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// Config describes one adapter instance.
type Config struct {
	ID     string
	Kind   string
	Params map[string]string
}

// Env carries the shared dependencies handed to every factory.
type Env struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// Factory builds an adapter of one kind.
type Factory func(cfg Config, env Env) (domain.Strategy, error)

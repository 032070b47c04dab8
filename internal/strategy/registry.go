package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// Registry maps adapter kinds to factories. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with every built-in kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindSimulated, NewSimulatedFromConfig)
	return r
}

// Register adds a factory under kind, replacing any previous one.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build constructs the adapter described by cfg.
func (r *Registry) Build(cfg Config, env Env) (domain.Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: kind %q not registered", cfg.ID, cfg.Kind)
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	s, err := f(cfg, env)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", cfg.ID, err)
	}
	return s, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

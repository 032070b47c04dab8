package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// KindSimulated is a paper adapter that accrues simple interest.
const KindSimulated = "simulated"

const secondsPerYear = 31_536_000

// Simulated accrues yield at a fixed APR on its principal. It supports
// partial withdrawals and can be paused or made to fail for drills.
type Simulated struct {
	mu          sync.Mutex
	principal   *uint256.Int
	accrued     *uint256.Int
	aprBps      uint64
	lastAccrual time.Time
	paused      bool
	failing     bool
	now         func() time.Time
	logger      *slog.Logger
}

// NewSimulated creates an empty adapter.
func NewSimulated(aprBps uint64, now func() time.Time, logger *slog.Logger) *Simulated {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{
		principal:   new(uint256.Int),
		accrued:     new(uint256.Int),
		aprBps:      aprBps,
		lastAccrual: now(),
		now:         now,
		logger:      logger,
	}
}

// NewSimulatedFromConfig reads apr_bps, paused and failing from Params.
func NewSimulatedFromConfig(cfg Config, env Env) (domain.Strategy, error) {
	var apr uint64
	if v := cfg.Params["apr_bps"]; v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("apr_bps %q: %w", v, err)
		}
		apr = n
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := NewSimulated(apr, env.Now, logger.With(slog.String("component", "strategy"), slog.String("strategy", cfg.ID)))
	for key, dst := range map[string]*bool{"paused": &s.paused, "failing": &s.failing} {
		if v := cfg.Params[key]; v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s %q: %w", key, v, err)
			}
			*dst = b
		}
	}
	return s, nil
}

// accrue must be called with mu held.
func (s *Simulated) accrue() {
	now := s.now()
	elapsed := now.Sub(s.lastAccrual)
	s.lastAccrual = now
	if elapsed <= 0 || s.aprBps == 0 || s.principal.IsZero() {
		return
	}
	rate := uint256.NewInt(s.aprBps * uint64(elapsed/time.Second))
	yield, overflow := new(uint256.Int).MulDivOverflow(s.principal, rate, uint256.NewInt(10_000*secondsPerYear))
	if overflow {
		return
	}
	s.accrued.Add(s.accrued, yield)
}

func (s *Simulated) guard() error {
	if s.failing {
		return fmt.Errorf("simulated: adapter failing")
	}
	return nil
}

func (s *Simulated) Execute(_ context.Context, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if s.paused {
		return fmt.Errorf("simulated: %w", domain.ErrStrategyPaused)
	}
	s.accrue()
	s.principal.Add(s.principal, amount)
	return nil
}

func (s *Simulated) Harvest(ctx context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.accrue()
	out := s.accrued.Clone()
	s.accrued.Clear()
	s.logger.DebugContext(ctx, "simulated harvest", slog.String("yield", out.Dec()))
	return out, nil
}

func (s *Simulated) EmergencyExit(context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.accrue()
	out := new(uint256.Int).Add(s.principal, s.accrued)
	s.principal.Clear()
	s.accrued.Clear()
	return out, nil
}

// Withdraw releases up to amount, taking principal first.
func (s *Simulated) Withdraw(_ context.Context, amount *uint256.Int) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.accrue()
	out := amount.Clone()
	if out.Gt(s.principal) {
		rest := new(uint256.Int).Sub(out, s.principal)
		if rest.Gt(s.accrued) {
			rest.Set(s.accrued)
		}
		out.Add(s.principal, rest)
		s.principal.Clear()
		s.accrued.Sub(s.accrued, rest)
		return out, nil
	}
	s.principal.Sub(s.principal, out)
	return out, nil
}

func (s *Simulated) Balance(context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.accrue()
	return new(uint256.Int).Add(s.principal, s.accrued), nil
}

func (s *Simulated) Paused(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

// SetPaused toggles the paused flag.
func (s *Simulated) SetPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

// SetFailing makes every adapter call except Paused return an error.
func (s *Simulated) SetFailing(f bool) {
	s.mu.Lock()
	s.failing = f
	s.mu.Unlock()
}

var (
	_ domain.Strategy   = (*Simulated)(nil)
	_ domain.Withdrawer = (*Simulated)(nil)
)

// Restore resets the principal to a persisted balance after a restart.
func (s *Simulated) Restore(balance *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = balance.Clone()
	if s.principal == nil {
		s.principal = new(uint256.Int)
	}
	s.accrued = new(uint256.Int)
	s.lastAccrual = s.now()
}

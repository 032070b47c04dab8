package keeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
)

type fakeVault struct {
	harvests  atomic.Int32
	finalizes atomic.Int32
	round     *domain.Round
	err       error
}

func (f *fakeVault) Harvest(context.Context, domain.Principal, []string) (harvest.Report, error) {
	f.harvests.Add(1)
	return harvest.Report{Gross: uint256.NewInt(10), Net: uint256.NewInt(9)}, f.err
}

func (f *fakeVault) Rebalance(context.Context, domain.Principal) (allocator.RebalanceReport, error) {
	return allocator.RebalanceReport{}, f.err
}

func (f *fakeVault) Report(context.Context, domain.Principal) (map[string]string, error) {
	return nil, f.err
}

func (f *fakeVault) FinalizeCurrent(context.Context, domain.Principal, int) (*domain.Round, error) {
	f.finalizes.Add(1)
	return f.round, f.err
}

type fakeArchiver struct{ before time.Time }

func (a *fakeArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	a.before = before
	return 3, nil
}

type fakeLease struct {
	mu         sync.Mutex
	refreshErr error
	released   bool
}

func (l *fakeLease) Refresh(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshErr
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
}

type fakeLeases struct {
	lease    *fakeLease
	heldFor  int
	attempts int
}

func (f *fakeLeases) AcquireLease(context.Context, string, time.Duration) (domain.Lease, error) {
	f.attempts++
	if f.attempts <= f.heldFor {
		return nil, domain.ErrLockHeld
	}
	return f.lease, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func keeperPrincipal() domain.Principal { return domain.NewPrincipal("keeper", domain.CapKeeper) }

func TestRunTicksUntilCancelled(t *testing.T) {
	v := &fakeVault{}
	lease := &fakeLease{}
	k := New(v, nil, &fakeLeases{lease: lease, heldFor: 1}, keeperPrincipal(), Config{
		HarvestInterval:  5 * time.Millisecond,
		FinalizeInterval: 5 * time.Millisecond,
		LeaseTTL:         30 * time.Millisecond,
		LeaseRetry:       time.Millisecond,
	}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, func() bool {
		return v.harvests.Load() >= 2 && v.finalizes.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
	lease.mu.Lock()
	assert.True(t, lease.released)
	lease.mu.Unlock()
}

func TestRunStopsWhenLeaseLost(t *testing.T) {
	lease := &fakeLease{refreshErr: errors.New("token mismatch")}
	k := New(&fakeVault{}, nil, &fakeLeases{lease: lease}, keeperPrincipal(), Config{
		LeaseTTL: 9 * time.Millisecond,
	}, discard())

	err := k.Run(context.Background())
	require.ErrorIs(t, err, ErrLeaseLost)
}

func TestTaskErrorsDoNotStopKeeper(t *testing.T) {
	v := &fakeVault{err: errors.New("rpc down")}
	k := New(v, nil, nil, keeperPrincipal(), Config{HarvestInterval: 2 * time.Millisecond}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, func() bool { return v.harvests.Load() >= 3 }, time.Second, 2*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestArchiveOnceUsesRetentionCutoff(t *testing.T) {
	arch := &fakeArchiver{}
	k := New(&fakeVault{}, arch, nil, keeperPrincipal(), Config{ArchiveRetention: 30 * 24 * time.Hour}, discard())
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return now }

	require.NoError(t, k.ArchiveOnce(context.Background()))
	assert.Equal(t, now.Add(-30*24*time.Hour), arch.before)
}

func TestFinalizeOnceHandlesOpenRound(t *testing.T) {
	v := &fakeVault{}
	k := New(v, nil, nil, keeperPrincipal(), Config{}, discard())
	require.NoError(t, k.FinalizeOnce(context.Background()))

	v.round = domain.NewRound(1, time.Now(), time.Hour, nil)
	require.NoError(t, k.FinalizeOnce(context.Background()))
	assert.Equal(t, int32(2), v.finalizes.Load())
}

func TestRunRejectsBadCron(t *testing.T) {
	k := New(&fakeVault{}, &fakeArchiver{}, nil, keeperPrincipal(), Config{ArchiveCron: "not a cron"}, discard())
	err := k.Run(context.Background())
	require.Error(t, err)
}

package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/allocator"
	"github.com/alanyoungcy/prizevault/internal/domain"
	"github.com/alanyoungcy/prizevault/internal/harvest"
	"github.com/alanyoungcy/prizevault/internal/lottery"
	"github.com/alanyoungcy/prizevault/internal/risk"
	"github.com/alanyoungcy/prizevault/internal/server/middleware"
	"github.com/alanyoungcy/prizevault/internal/vault"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const alice = "0x00000000000000000000000000000000000000a1"

type fakeAccounts struct {
	depositErr error
	deposits   int
	owner      common.Address
	amount     *uint256.Int
}

func (f *fakeAccounts) Deposit(_ context.Context, owner common.Address, symbol string, amount *uint256.Int) (vault.DepositReceipt, error) {
	if f.depositErr != nil {
		return vault.DepositReceipt{}, f.depositErr
	}
	f.deposits++
	f.owner, f.amount = owner, amount
	return vault.DepositReceipt{Asset: symbol, AmountIn: amount, Credited: amount, Shares: amount, RoundID: 1, Registered: true}, nil
}

func (f *fakeAccounts) RequestWithdrawal(context.Context, common.Address, *uint256.Int) (time.Time, error) {
	return time.Unix(1000, 0), nil
}

func (f *fakeAccounts) CancelWithdrawal(context.Context, common.Address) error {
	return domain.ErrNotRequested
}

func (f *fakeAccounts) Withdraw(context.Context, common.Address, *uint256.Int, common.Address) (vault.WithdrawReceipt, error) {
	return vault.WithdrawReceipt{}, fmt.Errorf("vault: withdraw: %w", domain.ErrDelayNotElapsed)
}

func (f *fakeAccounts) ClaimPrize(context.Context, common.Address, uint64) (*uint256.Int, error) {
	return uint256.NewInt(7), nil
}

func (f *fakeAccounts) Position(common.Address) (*domain.Position, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeAccounts) Positions() []*domain.Position { return nil }

func (f *fakeAccounts) WithdrawalReadyAt(common.Address) (time.Time, error) {
	return time.Time{}, domain.ErrNotRequested
}

func (f *fakeAccounts) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return assets.Clone(), nil
}

func TestStatusFor(t *testing.T) {
	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	authed := anon.WithContext(middleware.WithPrincipal(anon.Context(), domain.NewPrincipal("ops")))

	tests := []struct {
		name string
		r    *http.Request
		err  error
		want int
	}{
		{"anonymous unauthorized", anon, domain.ErrUnauthorized, http.StatusUnauthorized},
		{"authenticated unauthorized", authed, fmt.Errorf("x: %w", domain.ErrUnauthorized), http.StatusForbidden},
		{"not found", anon, domain.ErrNotFound, http.StatusNotFound},
		{"zero amount", anon, fmt.Errorf("deposit: %w", domain.ErrZeroAmount), http.StatusBadRequest},
		{"already finalized", anon, domain.ErrAlreadyFinalized, http.StatusConflict},
		{"reentrant", anon, domain.ErrReentrant, http.StatusConflict},
		{"risk rejected", anon, domain.ErrRiskRejected, http.StatusUnprocessableEntity},
		{"collaborator", anon, domain.ErrCollaborator, http.StatusBadGateway},
		{"unknown", anon, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.r, tt.err))
		})
	}
}

func TestDeposit(t *testing.T) {
	svc := &fakeAccounts{}
	h := NewAccountHandler(svc, testLogger())

	body := `{"owner":"` + alice + `","asset":"USDC","amount":"1000"}`
	rec := httptest.NewRecorder()
	h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/deposits", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shares":"1000"`)
	assert.Equal(t, 1, svc.deposits)
	assert.Equal(t, common.HexToAddress(alice), svc.owner)
	assert.Equal(t, uint64(1000), svc.amount.Uint64())
}

func TestDepositRejectsBadInput(t *testing.T) {
	h := NewAccountHandler(&fakeAccounts{}, testLogger())

	for name, body := range map[string]string{
		"bad owner":     `{"owner":"nope","asset":"USDC","amount":"1"}`,
		"bad amount":    `{"owner":"` + alice + `","asset":"USDC","amount":"-1"}`,
		"missing":       `{"owner":"` + alice + `","asset":"USDC"}`,
		"unknown field": `{"owner":"` + alice + `","amount":"1","extra":true}`,
		"not json":      `{`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/deposits", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDepositMapsVaultErrors(t *testing.T) {
	h := NewAccountHandler(&fakeAccounts{depositErr: fmt.Errorf("vault: deposit: %w", domain.ErrInactive)}, testLogger())

	body := `{"owner":"` + alice + `","asset":"USDC","amount":"5"}`
	rec := httptest.NewRecorder()
	h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/deposits", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrInactive.Error())
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	h := NewAccountHandler(&fakeAccounts{depositErr: errors.New("pq: connection reset")}, testLogger())

	body := `{"owner":"` + alice + `","asset":"USDC","amount":"5"}`
	rec := httptest.NewRecorder()
	h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/deposits", strings.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestGetPositionNotFound(t *testing.T) {
	h := NewAccountHandler(&fakeAccounts{}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{owner}", h.GetPosition)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/"+alice, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdrawalEndpoints(t *testing.T) {
	h := NewAccountHandler(&fakeAccounts{}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/withdrawals/requests", h.RequestWithdrawal)
	mux.HandleFunc("DELETE /api/withdrawals/requests/{owner}", h.CancelWithdrawal)
	mux.HandleFunc("POST /api/withdrawals", h.Withdraw)
	mux.HandleFunc("GET /api/withdrawals/preview", h.PreviewWithdraw)

	body := `{"owner":"` + alice + `","amount":"10"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/withdrawals/requests", strings.NewReader(body)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready_at")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/withdrawals/requests/"+alice, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/withdrawals", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/withdrawals/preview?amount=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shares":"42"`)
}

type fakeAdmin struct {
	paused bool
}

func (f *fakeAdmin) Pause(_ context.Context, p domain.Principal) error {
	if err := p.Require(domain.CapPause); err != nil {
		return err
	}
	f.paused = true
	return nil
}

func (f *fakeAdmin) Unpause(_ context.Context, p domain.Principal) error {
	return p.Require(domain.CapPause)
}

func (f *fakeAdmin) SetFees(context.Context, domain.Principal, harvest.FeeConfig) error { return nil }
func (f *fakeAdmin) SetRiskLimits(context.Context, domain.Principal, risk.Limits) error { return nil }
func (f *fakeAdmin) SetWithdrawalDelay(context.Context, domain.Principal, time.Duration) error {
	return nil
}
func (f *fakeAdmin) SetAllocatorConfig(context.Context, domain.Principal, allocator.Config) error {
	return nil
}
func (f *fakeAdmin) SetLotteryConfig(context.Context, domain.Principal, lottery.Config) error {
	return nil
}
func (f *fakeAdmin) SetAsset(context.Context, domain.Principal, *domain.AssetInfo) error { return nil }
func (f *fakeAdmin) Assets() []*domain.AssetInfo                                         { return nil }

func TestPauseCapability(t *testing.T) {
	svc := &fakeAdmin{}
	h := NewAdminHandler(svc, testLogger())

	keys := map[string]domain.Principal{
		"ops-key":    domain.NewPrincipal("ops", domain.CapPause),
		"reader-key": domain.NewPrincipal("reader"),
	}
	srv := middleware.Auth(keys)(http.HandlerFunc(h.Pause))

	call := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/pause", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("wrong"))
	assert.Equal(t, http.StatusForbidden, call("reader-key"))
	assert.False(t, svc.paused)
	assert.Equal(t, http.StatusOK, call("ops-key"))
	assert.True(t, svc.paused)
}

type memBlobs struct {
	objects map[string]string
}

func (m *memBlobs) Get(_ context.Context, p string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m.objects[p])), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, body := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m.objects[p]
	return ok, nil
}

func TestCleanArchivePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "archive/", true},
		{"archive/events/", "archive/events/", true},
		{"/archive/events/2026-01/a.jsonl", "archive/events/2026-01/a.jsonl", true},
		{"archive/../secrets", "", false},
		{"../archive", "", false},
		{"other/file", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanArchivePath(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestArchiveEndpoints(t *testing.T) {
	blobs := &memBlobs{objects: map[string]string{
		"archive/events/2026-01/000000000001-000000000002.jsonl": "{\"seq\":1}\n{\"seq\":2}\n",
	}}
	h := NewArchiveHandler(blobs, testLogger())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?prefix=archive/events/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "000000000001-000000000002.jsonl")

	rec = httptest.NewRecorder()
	h.GetArchive(rec, httptest.NewRequest(http.MethodGet, "/api/archives/object?path=archive/events/2026-01/000000000001-000000000002.jsonl", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, bytes.Count(rec.Body.Bytes(), []byte("\n")))

	rec = httptest.NewRecorder()
	h.GetArchive(rec, httptest.NewRequest(http.MethodGet, "/api/archives/object?path=archive/missing.jsonl", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.GetArchive(rec, httptest.NewRequest(http.MethodGet, "/api/archives/object?path=../etc/passwd", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"postgres": ok, "redis": ok}, testLogger()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"postgres": ok, "redis": down}, testLogger()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "1.5", display(uint256.NewInt(1_500_000), 6))
	assert.Equal(t, "0", display(nil, 6))
	assert.Equal(t, "42", display(uint256.NewInt(42), 0))
}

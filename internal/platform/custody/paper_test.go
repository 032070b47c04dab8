package custody

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

type fakeAudit struct {
	entries []map[string]any
	err     error
}

func (f *fakeAudit) Log(_ context.Context, _ string, d map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, d)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPaperTransferRecordsAndAudits(t *testing.T) {
	audit := &fakeAudit{}
	p := NewPaper(audit, discard())
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.NoError(t, p.Transfer(context.Background(), to, uint256.NewInt(25)))
	got := p.Transfers()
	require.Len(t, got, 1)
	assert.Equal(t, to, got[0].To)
	assert.Equal(t, uint64(25), got[0].Amount.Uint64())
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "25", audit.entries[0]["amount"])
}

func TestPaperTransferValidates(t *testing.T) {
	p := NewPaper(nil, discard())
	err := p.Transfer(context.Background(), common.Address{}, uint256.NewInt(1))
	require.ErrorIs(t, err, domain.ErrZeroAddress)

	err = p.Transfer(context.Background(), common.HexToAddress("0x01"), new(uint256.Int))
	require.ErrorIs(t, err, domain.ErrZeroAmount)
	assert.Empty(t, p.Transfers())
}

func TestPaperTransferFailsWhenAuditFails(t *testing.T) {
	p := NewPaper(&fakeAudit{err: errors.New("db down")}, discard())
	err := p.Transfer(context.Background(), common.HexToAddress("0x01"), uint256.NewInt(1))
	require.Error(t, err)
	assert.Empty(t, p.Transfers())
}

package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

type memBlob struct {
	objects map[string][]byte
	puts    int
}

func newMemBlob() *memBlob { return &memBlob{objects: make(map[string][]byte)} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.objects[path])), nil
}

func (m *memBlob) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memEvents struct {
	events   []domain.Event
	archived uint64
}

func (m *memEvents) List(context.Context, domain.ListOpts) ([]domain.Event, error) { return nil, nil }

func (m *memEvents) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range m.events {
		if e.Seq <= m.archived || !e.At.Before(before) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memEvents) MarkArchived(_ context.Context, upTo uint64) error {
	m.archived = upTo
	return nil
}

type memAudit struct{ logged []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func seedEvents(n int, start time.Time) []domain.Event {
	out := make([]domain.Event, n)
	for i := range out {
		e := domain.NewEvent(domain.EventDeposit, start.Add(time.Duration(i)*time.Minute))
		e.Seq = uint64(i + 1)
		e.Amount = uint256.NewInt(uint64(100 * (i + 1)))
		out[i] = e
	}
	return out
}

func TestArchiveEventsBatchesBySeqRange(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := &memEvents{events: seedEvents(5, start)}
	blob := newMemBlob()
	audit := &memAudit{}
	a := NewEventArchiver(blob, blob, events, audit, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(context.Background(), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, uint64(5), events.archived)
	assert.Len(t, audit.logged, 3)

	require.Contains(t, blob.objects, "archive/events/2026-03/000000000001-000000000002.jsonl")
	require.Contains(t, blob.objects, "archive/events/2026-03/000000000005-000000000005.jsonl")

	sc := bufio.NewScanner(bytes.NewReader(blob.objects["archive/events/2026-03/000000000003-000000000004.jsonl"]))
	var lines []domain.Event
	for sc.Scan() {
		var e domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, uint64(3), lines[0].Seq)
	assert.Equal(t, "400", lines[1].Amount.Dec())
}

func TestArchiveEventsSkipsExistingObject(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := &memEvents{events: seedEvents(2, start)}
	blob := newMemBlob()
	blob.objects["archive/events/2026-03/000000000001-000000000002.jsonl"] = []byte("{}\n")
	a := NewEventArchiver(blob, blob, events, nil, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(context.Background(), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Zero(t, blob.puts)
	assert.Equal(t, uint64(2), events.archived)
}

func TestArchiveEventsRespectsCutoff(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := &memEvents{events: seedEvents(3, start)}
	blob := newMemBlob()
	a := NewEventArchiver(blob, blob, events, nil, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(context.Background(), start.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, uint64(2), events.archived)
}

func TestMarshalJSONLOneRecordPerLine(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"a": "<b>"}, {"c": "d"}})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":\"<b>\"}\n{\"c\":\"d\"}\n", string(buf))
}

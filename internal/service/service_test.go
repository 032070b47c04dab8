package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

type fakeBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	pubErr    error
	streamErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, ch string, p []byte) error {
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published[ch] = append(b.published[ch], p)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, s string, p []byte) error {
	if b.streamErr != nil {
		return b.streamErr
	}
	b.streamed[s] = append(b.streamed[s], p)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testEvents() []domain.Event {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := domain.NewEvent(domain.EventDeposit, at)
	a.Seq = 1
	a.Amount = uint256.NewInt(100)
	b := domain.NewEvent(domain.EventHarvest, at)
	b.Seq = 2
	return []domain.Event{a, b}
}

func TestEventPublisherWritesStreamAndChannel(t *testing.T) {
	bus := newFakeBus()
	p := NewEventPublisher(bus, discard())

	require.NoError(t, p.Publish(context.Background(), testEvents()))
	require.Len(t, bus.streamed[domain.StreamVaultEvents], 2)
	require.Len(t, bus.published[domain.ChannelVaultEvents], 2)

	var got domain.Event
	require.NoError(t, json.Unmarshal(bus.streamed[domain.StreamVaultEvents][0], &got))
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, "100", got.Amount.Dec())
}

func TestEventPublisherToleratesPubSubFailure(t *testing.T) {
	bus := newFakeBus()
	bus.pubErr = errors.New("redis down")
	p := NewEventPublisher(bus, discard())

	require.NoError(t, p.Publish(context.Background(), testEvents()))
	assert.Len(t, bus.streamed[domain.StreamVaultEvents], 2)
}

func TestEventPublisherFailsOnStreamError(t *testing.T) {
	bus := newFakeBus()
	bus.streamErr = errors.New("redis down")
	p := NewEventPublisher(bus, discard())

	err := p.Publish(context.Background(), testEvents())
	require.Error(t, err)
	assert.Empty(t, bus.published)
}

func TestHistoryServiceWithoutStores(t *testing.T) {
	s := NewHistoryService(nil, nil, discard())
	events, err := s.Events(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, events)
	entries, err := s.Audit(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClampPage(t *testing.T) {
	assert.Equal(t, defaultPageSize, clampPage(domain.ListOpts{}).Limit)
	assert.Equal(t, maxPageSize, clampPage(domain.ListOpts{Limit: 5000}).Limit)
	got := clampPage(domain.ListOpts{Limit: 10, Offset: -3})
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 0, got.Offset)
}

package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

type fakeBus struct {
	live   chan []byte
	stream []domain.StreamMessage
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.live, nil }

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return b.stream, nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubStreamsAndFiltersEvents(t *testing.T) {
	bus := &fakeBus{
		live: make(chan []byte, 8),
		stream: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"seq":1,"kind":"deposit"}`)},
			{ID: "2-0", Payload: []byte(`{"seq":2,"kind":"harvest"}`)},
		},
	}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	assert.Equal(t, "hello", hello.Type)

	bus.live <- []byte(`{"seq":3,"kind":"deposit"}`)
	ev := readEnvelope(t, conn)
	assert.Equal(t, "event", ev.Type)
	assert.JSONEq(t, `{"seq":3,"kind":"deposit"}`, string(ev.Payload))

	require.NoError(t, conn.WriteJSON(controlMsg{Action: "subscribe", Kinds: []string{"harvest"}}))
	require.NoError(t, conn.WriteJSON(controlMsg{Action: "replay", From: "0"}))
	rep := readEnvelope(t, conn)
	assert.Equal(t, "replay", rep.Type)
	assert.Equal(t, "2-0", rep.StreamID)

	bus.live <- []byte(`{"seq":4,"kind":"deposit"}`)
	bus.live <- []byte(`{"seq":5,"kind":"harvest"}`)
	ev = readEnvelope(t, conn)
	assert.JSONEq(t, `{"seq":5,"kind":"harvest"}`, string(ev.Payload))
}

func TestEventKind(t *testing.T) {
	assert.Equal(t, "round_finalized", eventKind([]byte(`{"kind":"round_finalized"}`)))
	assert.Equal(t, "", eventKind([]byte(`not json`)))
}

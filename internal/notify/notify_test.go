package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

type captureSender struct {
	msgs []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier([]Sender{s}, []string{"round_finalized"}, discard())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, Message{Event: "deposit", Title: "t"}))
	require.NoError(t, n.Notify(ctx, Message{Event: "round_finalized", Title: "t"}))
	require.NoError(t, n.Notify(ctx, Message{Event: "emergency_exit", Title: "t", Severity: SeverityCritical}))
	assert.Len(t, s.msgs, 2)
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &captureSender{err: boom}
	good := &captureSender{}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.msgs, 1)
}

func TestEventNotifierRendersRoundFinalized(t *testing.T) {
	s := &captureSender{}
	en := NewEventNotifier(NewNotifier([]Sender{s}, nil, discard()), "USDC", 6)

	ev := domain.NewEvent(domain.EventRoundFinalized, time.Now())
	ev.RoundID = 4
	ev.Amount = uint256.NewInt(12_500_000)
	ev.Detail = map[string]string{
		"participants":     "3",
		"winners":          "0x01,0x02",
		"prize_per_winner": "6250000",
	}
	deposit := domain.NewEvent(domain.EventDeposit, time.Now())

	require.NoError(t, en.Publish(context.Background(), []domain.Event{deposit, ev}))
	require.Len(t, s.msgs, 1)
	assert.Equal(t, "Round 4 finalized", s.msgs[0].Title)
	assert.Contains(t, s.msgs[0].Text(), "Prize pool: 12.5 USDC")
	assert.Contains(t, s.msgs[0].Text(), "Prize per winner: 6.25 USDC")
}

func TestEventNotifierSwallowsSenderFailure(t *testing.T) {
	s := &captureSender{err: errors.New("webhook down")}
	en := NewEventNotifier(NewNotifier([]Sender{s}, nil, discard()), "USDC", 6)

	ev := domain.NewEvent(domain.EventStrategyFailure, time.Now())
	ev.StrategyID = "aave"
	ev.Detail = map[string]string{"op": "harvest", "error": "paused"}

	require.NoError(t, en.Publish(context.Background(), []domain.Event{ev}))
	require.Len(t, s.msgs, 1)
	assert.Equal(t, "Strategy aave failed", s.msgs[0].Title)
	assert.Equal(t, SeverityWarning, s.msgs[0].Severity)
	assert.Equal(t, "Operation: harvest\nError: paused", s.msgs[0].Text())
}

func TestTelegramEscapesHTML(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.baseURL = srv.URL
	err := tg.Send(context.Background(), Message{
		Title:    "Emergency exit: <aave>",
		Severity: SeverityCritical,
		Fields:   []Field{{"By", "ops&co"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>[CRITICAL]</b> <b>Emergency exit: &lt;aave&gt;</b>\nBy: <code>ops&amp;co</code>", got["text"])
}

func TestDiscordEmbed(t *testing.T) {
	var got struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{
		Event:    "paused",
		Title:    "Deposits paused",
		Severity: SeverityWarning,
		Fields:   []Field{{"By", "ops"}},
	})
	require.NoError(t, err)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Deposits paused", got.Embeds[0].Title)
	assert.Equal(t, 0xf1c40f, got.Embeds[0].Color)
	assert.Equal(t, "paused · warning", got.Embeds[0].Footer.Text)
	require.Len(t, got.Embeds[0].Fields, 1)
	assert.True(t, got.Embeds[0].Fields[0].Inline)
}

func TestWebhookStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

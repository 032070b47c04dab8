package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/prizevault/internal/domain"
)

// EventNotifier turns committed vault events into operator messages. Kinds
// without a renderer are skipped; the Notifier's own filter then applies.
type EventNotifier struct {
	notifier *Notifier
	symbol   string
	decimals int32
}

// NewEventNotifier renders amounts in the base asset's units.
func NewEventNotifier(n *Notifier, symbol string, decimals uint8) *EventNotifier {
	return &EventNotifier{notifier: n, symbol: symbol, decimals: int32(decimals)}
}

// Publish never fails the caller; sender errors are logged by the Notifier.
func (e *EventNotifier) Publish(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		msg, ok := e.Render(ev)
		if !ok {
			continue
		}
		_ = e.notifier.Notify(ctx, msg)
	}
	return nil
}

// Render builds the message for ev, reporting false for kinds that are not
// worth an alert.
func (e *EventNotifier) Render(ev domain.Event) (Message, bool) {
	msg := Message{Event: string(ev.Kind)}
	switch ev.Kind {
	case domain.EventRoundFinalized:
		msg.Title = fmt.Sprintf("Round %d finalized", ev.RoundID)
		msg.Fields = []Field{
			{"Prize pool", e.amount(ev.Amount)},
			{"Participants", ev.Detail["participants"]},
			{"Winners", ev.Detail["winners"]},
		}
		if ppw, err := uint256.FromDecimal(ev.Detail["prize_per_winner"]); err == nil {
			msg.Fields = append(msg.Fields, Field{"Prize per winner", e.amount(ppw)})
		}
	case domain.EventStrategyFailure:
		msg.Severity = SeverityWarning
		msg.Title = fmt.Sprintf("Strategy %s failed", ev.StrategyID)
		msg.Fields = []Field{{"Operation", ev.Detail["op"]}, {"Error", ev.Detail["error"]}}
	case domain.EventEmergencyExit:
		msg.Severity = SeverityCritical
		msg.Title = fmt.Sprintf("Emergency exit: %s", ev.StrategyID)
		msg.Fields = []Field{{"Recovered", e.amount(ev.Amount)}, {"By", ev.Actor}}
	case domain.EventPaused:
		msg.Severity = SeverityWarning
		msg.Title = "Deposits paused"
		msg.Fields = []Field{{"By", ev.Actor}}
	case domain.EventUnpaused:
		msg.Title = "Deposits resumed"
		msg.Fields = []Field{{"By", ev.Actor}}
	default:
		return Message{}, false
	}
	return msg, true
}

// amount formats a base-unit integer as a decimal in asset units.
func (e *EventNotifier) amount(x *uint256.Int) string {
	if x == nil {
		return "0 " + e.symbol
	}
	return decimal.NewFromBigInt(x.ToBig(), -e.decimals).String() + " " + e.symbol
}

// LogSender writes messages to the structured log. It is used when no chat
// channel is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "notify_log"))}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	attrs := []any{slog.String("event", msg.Event), slog.String("severity", msg.Severity.String())}
	for _, f := range msg.Fields {
		attrs = append(attrs, slog.String(f.Name, f.Value))
	}
	level := slog.LevelInfo
	if msg.Severity >= SeverityWarning {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, msg.Title, attrs...)
	return nil
}

func (l *LogSender) Name() string { return "log" }

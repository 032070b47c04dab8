// Package notify delivers operator alerts for vault events. Messages are
// dispatched to every registered sender (Telegram, Discord, or the log) and
// filtered by event kind so operators receive only the alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Severity ranks a message. Critical messages bypass the event filter.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Field is one labelled line of a message body.
type Field struct {
	Name  string
	Value string
}

// Message is a rendered alert. Event is the vault event kind it came from.
type Message struct {
	Event    string
	Title    string
	Severity Severity
	Fields   []Field
}

// Text renders the fields as "Name: Value" lines.
func (m Message) Text() string {
	lines := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		lines = append(lines, f.Name+": "+f.Value)
	}
	return strings.Join(lines, "\n")
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a short identifier for the sender (e.g. "telegram").
	Name() string
}

const sendTimeout = 10 * time.Second

// Notifier fans a message out to its senders. A sender failure does not stop
// delivery to the others.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only messages whose Event appears in events
// are forwarded, unless they are critical. An empty events list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Allows reports whether msg passes the event filter.
func (n *Notifier) Allows(msg Message) bool {
	return len(n.events) == 0 || n.events[msg.Event] || msg.Severity == SeverityCritical
}

// Notify delivers msg to every sender and joins their errors.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Allows(msg) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.Send(sendCtx, msg)
		cancel()
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

package notify

import (
	"context"
	"html"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts to a chat through the Bot API using HTML formatting.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  defaultHTTPClient(),
	}
}

// telegramText renders msg as Bot API HTML. Field values are escaped; a
// critical message gets a marker line.
func telegramText(msg Message) string {
	var b strings.Builder
	if msg.Severity == SeverityCritical {
		b.WriteString("<b>[CRITICAL]</b> ")
	}
	b.WriteString("<b>" + html.EscapeString(msg.Title) + "</b>")
	for _, f := range msg.Fields {
		b.WriteString("\n" + html.EscapeString(f.Name) + ": <code>" + html.EscapeString(f.Value) + "</code>")
	}
	return b.String()
}

func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, t.client, "telegram", t.baseURL+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     telegramText(msg),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }

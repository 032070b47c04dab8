package notify

import (
	"context"
	"net/http"
)

// Embed colors per severity.
var discordColors = map[Severity]int{
	SeverityInfo:     0x2ecc71,
	SeverityWarning:  0xf1c40f,
	SeverityCritical: 0xe74c3c,
}

// DiscordSender posts rich embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultHTTPClient()}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields,omitempty"`
	Footer struct {
		Text string `json:"text"`
	} `json:"footer"`
}

func discordPayload(msg Message) map[string]any {
	embed := discordEmbed{Title: msg.Title, Color: discordColors[msg.Severity]}
	for _, f := range msg.Fields {
		// Long values such as winner lists get a full-width row.
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: len(f.Value) <= 40})
	}
	embed.Footer.Text = msg.Event + " · " + msg.Severity.String()
	return map[string]any{"embeds": []discordEmbed{embed}}
}

// Send posts msg as a single embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload(msg))
}

func (d *DiscordSender) Name() string { return "discord" }

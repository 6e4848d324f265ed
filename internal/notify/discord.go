package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Embed colors per severity, Discord's decimal RGB convention.
const (
	colorInfo     = 3066993  // green
	colorWarning  = 16776960 // yellow
	colorError    = 15158332 // red
	colorCritical = 10038562 // dark red
)

// DiscordNotifier posts alerts to a Discord webhook as embeds.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	log        *slog.Logger
}

var _ Notifier = (*DiscordNotifier)(nil)

// NewDiscordNotifier creates a notifier for the given webhook URL.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        slog.Default().With("component", "discord"),
	}
}

// Notify posts one embed. Failures are logged and swallowed.
func (n *DiscordNotifier) Notify(severity Severity, title, body string) {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": body,
				"color":       severityColor(severity),
				"timestamp":   time.Now().Format(time.RFC3339),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("marshaling discord payload", "err", err)
		return
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(data))
	if err != nil {
		n.log.Error("posting to discord", "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.log.Error("discord rejected alert", "status", resp.StatusCode)
	}
}

func severityColor(s Severity) int {
	switch s {
	case SeverityInfo:
		return colorInfo
	case SeverityWarning:
		return colorWarning
	case SeverityError:
		return colorError
	default:
		return colorCritical
	}
}

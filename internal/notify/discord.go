package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Embed colours by severity.
const (
	discordColorInfo   = 0x2ecc71
	discordColorSevere = 0xe74c3c
)

// DiscordSender posts alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a sender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "flasharb",
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
	Timestamp string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts one embed; the body goes in a code block so hashes keep their
// formatting.
func (d *DiscordSender) Send(ctx context.Context, alert Alert) error {
	embed := discordEmbed{
		Title:       alert.Title,
		Description: "```\n" + alert.Message + "\n```",
		Color:       discordColorInfo,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	if alert.Severe() {
		embed.Color = discordColorSevere
	}
	embed.Footer.Text = alert.Event

	body, err := sonnet.Marshal(discordPayload{Username: d.username, Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		return fmt.Errorf("discord: status %d (retry after %ss): %s", resp.StatusCode, ra, snippet)
	}
	return fmt.Errorf("discord: status %d: %s", resp.StatusCode, snippet)
}

func (d *DiscordSender) Name() string { return "discord" }

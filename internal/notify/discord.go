package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
)

// embedColors picks the Discord embed accent per event type so a glance at
// the channel separates fills from feed trouble.
var embedColors = map[domain.EventType]int{
	domain.EventTradeOpened:  0x2ecc71,
	domain.EventTradeClosed:  0x3498db,
	domain.EventTradeExpired: 0xe67e22,
	domain.EventFeedStarted:  0x2ecc71,
	domain.EventFeedStopped:  0x95a5a6,
	domain.EventFeedError:    0xe74c3c,
}

const defaultEmbedColor = 0x95a5a6

// DiscordSender delivers alerts to a Discord webhook as colored embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Send posts the alert as a single embed, with the accent color chosen from
// the alert's event type.
func (d *DiscordSender) Send(ctx context.Context, alert Alert) error {
	color, ok := embedColors[alert.Event]
	if !ok {
		color = defaultEmbedColor
	}
	payload := struct {
		Embeds []discordEmbed `json:"embeds"`
	}{
		Embeds: []discordEmbed{{
			Title:       alert.Title,
			Description: alert.Body,
			Color:       color,
		}},
	}

	body, err := json.Marshal(payload)
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
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord answers 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embed colours by alert kind.
const (
	colorGreen  = 0x2ECC71
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
	colorBlue   = 0x3498DB
	colorGrey   = 0x95A5A6
)

var discordColors = map[string]int{
	KindTradeFilled:      colorGreen,
	KindTakeProfit:       colorGreen,
	KindTradeRejected:    colorGrey,
	KindExecutionFailed:  colorRed,
	KindStopLoss:         colorRed,
	KindPartialExecution: colorOrange,
	KindCircuitOpen:      colorOrange,
	KindDailyLimit:       colorRed,
	KindRegimeChange:     colorBlue,
}

// Discord caps embed titles and descriptions.
const (
	discordTitleMax = 256
	discordDescMax  = 4096
)

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// DiscordSender posts one embed per alert to a webhook, coloured by kind.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender with a 10s HTTP timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "spreadbot",
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Send posts an alert with no kind.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.SendKind(ctx, "", title, message)
}

// SendKind posts an embed whose colour and footer follow kind.
func (d *DiscordSender) SendKind(ctx context.Context, kind, title, message string) error {
	body, err := json.Marshal(d.payload(kind, title, message))
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
		return fmt.Errorf("discord: send %s: %w", kindOr(kind), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests {
		var limited struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if json.Unmarshal(respBody, &limited) == nil && limited.RetryAfter > 0 {
			return fmt.Errorf("discord: unexpected status 429: retry after %.1fs", limited.RetryAfter)
		}
	}
	return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
}

func (d *DiscordSender) payload(kind, title, message string) discordPayload {
	color, ok := discordColors[kind]
	if !ok {
		color = colorGrey
	}
	embed := discordEmbed{
		Title:       truncate(title, discordTitleMax),
		Description: truncate(message, discordDescMax),
		Color:       color,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	if kind != "" {
		embed.Footer = &discordFooter{Text: kind}
	}
	return discordPayload{Username: d.username, Embeds: []discordEmbed{embed}}
}

func kindOr(kind string) string {
	if kind == "" {
		return "alert"
	}
	return kind
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }

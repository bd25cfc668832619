// Package discord delivers notifications to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chronahq/tenancy/internal/port/notifier"
)

const providerName = "discord"

// Notifier posts embed messages to one webhook URL.
type Notifier struct {
	url    string
	client *http.Client
}

// NewNotifier builds a notifier for the given webhook URL. An empty
// URL yields a notifier whose Send reports ErrNotConfigured.
func NewNotifier(url string) *Notifier {
	return &Notifier{url: url, client: http.DefaultClient}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true, Threads: true}
}

// payload mirrors the webhook body; Discord wants embeds as a list
// even for a single message.
type payload struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Footer      *footer `json:"footer,omitempty"`
}

type footer struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, note notifier.Notification) error {
	if n.url == "" {
		return notifier.ErrNotConfigured
	}
	body, err := json.Marshal(compose(note))
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}
	return n.post(ctx, body)
}

// compose renders the notification as one color-coded embed with the
// producing event, when known, in the footer.
func compose(note notifier.Notification) payload {
	e := embed{
		Title:       note.Title,
		Description: note.Message,
		Color:       levelColor(note.Level),
	}
	if note.Source != "" {
		e.Footer = &footer{Text: "Source: " + note.Source}
	}
	return payload{Embeds: []embed{e}}
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Success is a bodyless 204.
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("discord webhook %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// levelColor maps severity to the embed sidebar color.
func levelColor(level string) int {
	switch level {
	case notifier.LevelSuccess:
		return 0x2ECC71
	case notifier.LevelWarning:
		return 0xF39C12
	case notifier.LevelError:
		return 0xE74C3C
	}
	return 0x3498DB
}

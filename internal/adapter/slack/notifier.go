// Package slack delivers notifications to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chronahq/tenancy/internal/port/notifier"
)

const providerName = "slack"

// Notifier posts Block Kit messages to one webhook URL.
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
	return notifier.Capabilities{RichFormatting: true}
}

// message mirrors the Block Kit payload shape.
type message struct {
	Blocks []block `json:"blocks"`
}

type block struct {
	Type string `json:"type"`
	Text *text  `json:"text,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, note notifier.Notification) error {
	if n.url == "" {
		return notifier.ErrNotConfigured
	}
	payload, err := json.Marshal(compose(note))
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}
	return n.post(ctx, payload)
}

// compose renders the notification as a header, a body section and,
// when the producing event is known, a context line.
func compose(note notifier.Notification) message {
	m := message{Blocks: []block{
		{Type: "header", Text: &text{Type: "plain_text", Text: tag(note.Level) + " " + note.Title}},
		{Type: "section", Text: &text{Type: "mrkdwn", Text: note.Message}},
	}}
	if note.Source != "" {
		m.Blocks = append(m.Blocks, block{
			Type: "context",
			Text: &text{Type: "mrkdwn", Text: "_Source: " + note.Source + "_"},
		})
	}
	return m
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("slack webhook %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// tag prefixes the header so severity reads at a glance. Slack headers
// are plain text, so no color is available there.
func tag(level string) string {
	switch level {
	case notifier.LevelSuccess:
		return "[OK]"
	case notifier.LevelWarning:
		return "[WARN]"
	case notifier.LevelError:
		return "[ERROR]"
	}
	return "[INFO]"
}

// Package notifier defines the outbound notification port and the
// provider registry the adapters plug into.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured reports a notifier whose required settings are absent.
var ErrNotConfigured = errors.New("notifier: not configured")

// Severity levels carried on a Notification.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is one operator-facing message. Source names the event
// that produced it, such as "provision.failed" or "purge.completed".
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
	Source  string `json:"source"`
}

// Capabilities describes what a provider can render.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Threads        bool `json:"threads"`
}

// Notifier delivers notifications through one provider.
type Notifier interface {
	// Name identifies the provider, such as "slack" or "email".
	Name() string

	// Capabilities reports the provider's rendering features.
	Capabilities() Capabilities

	// Send delivers one notification.
	Send(ctx context.Context, n Notification) error
}

// Package logger provides structured logging setup for the tenancy service.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/chronahq/tenancy/internal/config"
)

// level backs every handler built by this package, so a config reload can
// adjust verbosity without rebuilding loggers.
var level slog.LevelVar

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// With Async enabled, records pass through a buffered handler that drops
// under backpressure; the returned Closer flushes it on shutdown.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level.Set(parseLevel(cfg.Level))

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, 1024, 1)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// NewCLI creates a logger for command-line runs: human-readable text on
// stderr, keeping stdout free for command output.
func NewCLI(cfg config.Logging) *slog.Logger {
	level.Set(parseLevel(cfg.Level))
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})
	return slog.New(handler)
}

// SetLevel adjusts the level of every logger built by this package.
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

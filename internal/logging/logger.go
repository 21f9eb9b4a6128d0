package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a JSON logger on stdout tagged with the service name.
func NewLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New is NewLogger with an explicit destination.
func New(w io.Writer, service, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(w, opts)).With("service", service)
}

// Discard returns a logger that drops everything, for tests and optional wiring.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

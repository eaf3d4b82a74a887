// Package xlog builds the root slog.Logger every command and library
// package derives its contextual loggers from via logger.With(...), the
// same pattern relay.Relay already uses for its per-connection logger.
package xlog

import (
	"log/slog"
	"os"
	"strings"
)

// Options controls the root logger's format and level; both fields are
// meant to be populated straight from an env-parsed config struct, the
// same way config.LoadConfig already does for relay lists and keys.
type Options struct {
	// Format is "text" or "json"; anything else falls back to "text".
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	// Level is "debug", "info", "warn", or "error"; anything else falls
	// back to "info".
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// New builds a logger writing to stderr per opts and installs it as
// slog.Default so every package that calls slog.Default().With(...) -
// relay.New among them - picks it up without being threaded a logger
// explicitly.
func New(opts Options) *slog.Logger {
	handler := newHandler(opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newHandler(opts Options) slog.Handler {
	ho := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "json") {
		return slog.NewJSONHandler(os.Stderr, ho)
	}
	return slog.NewTextHandler(os.Stderr, ho)
}

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

// Package logging configures colored structured logging with tint.
//
// Usage:
//
//	logging.Setup()                          // level from LOG_LEVEL env
//	logging.SetupWithLevel(slog.LevelDebug)  // explicit level override
//
// Environment variables:
//
//	LOG_LEVEL:  debug, info, warn, error (default: info)
//	LOG_FORMAT: text (tint, default) or json
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LevelCritical marks invariant violations that need a human, such as an
// unbalanced ledger.
const LevelCritical = slog.Level(12)

// Setup configures logging at the level specified by LOG_LEVEL env var
// (default: INFO).
func Setup() {
	SetupWithLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// SetupWithLevel configures logging at the given level.
func SetupWithLevel(level slog.Level) {
	slog.SetDefault(New(os.Stderr, level, os.Getenv("LOG_FORMAT")))
}

// New builds a logger writing to w. Format "json" selects the JSON handler,
// anything else the tint handler.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceLevel,
		}))
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:       level,
		TimeFormat:  time.Kitchen,
		AddSource:   true,
		ReplaceAttr: replaceLevel,
	}))
}

// Critical logs at LevelCritical on the default logger.
func Critical(ctx context.Context, msg string, args ...any) {
	slog.Default().Log(ctx, LevelCritical, msg, args...)
}

// ParseLevel maps a level name to a slog level (default: INFO).
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical", "crit":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level >= LevelCritical {
			a.Value = slog.StringValue("CRIT")
		}
	}
	return a
}

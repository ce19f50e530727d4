package app

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the application logger. LOG_FORMAT selects json or pretty
// (text) output; LOG_LEVEL sets the floor, defaulting to info on unknown
// values.
func NewLogger(cfg *Config) *slog.Logger {
	format, level := "pretty", "info"
	if cfg != nil {
		format, level = cfg.LogFormat, cfg.LogLevel
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: parseLogLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

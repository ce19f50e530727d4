package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	ctx := context.Background()

	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "warn"})
	require.False(t, logger.Enabled(ctx, slog.LevelInfo))
	require.True(t, logger.Enabled(ctx, slog.LevelWarn))

	logger = NewLogger(&Config{LogFormat: "pretty", LogLevel: "debug"})
	require.True(t, logger.Enabled(ctx, slog.LevelDebug))

	// Unknown level falls back to info.
	logger = NewLogger(&Config{LogLevel: "chatty"})
	require.False(t, logger.Enabled(ctx, slog.LevelDebug))
	require.True(t, logger.Enabled(ctx, slog.LevelInfo))

	logger = NewLogger(nil)
	require.True(t, logger.Enabled(ctx, slog.LevelInfo))
}

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/fluxpay/fluxpay/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3, cfg.MaxRetryAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay)
	require.Equal(t, 2*time.Second, cfg.RetryMaxDelay)
	require.Equal(t, 5*time.Minute, cfg.IdempotencyProcessingTTL)
	require.Equal(t, 24*time.Hour, cfg.IdempotencySuccessTTL)
	require.Equal(t, 8, cfg.BatchConcurrency)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadRetrySettings(t *testing.T) {
	t.Setenv("MAX_RETRY_ATTEMPTS", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("MAX_RETRY_ATTEMPTS", "3")
	t.Setenv("RETRY_BASE_DELAY", "5s")
	t.Setenv("RETRY_MAX_DELAY", "1s")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
}

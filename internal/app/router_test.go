package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxpay/fluxpay/internal/observability"
	"github.com/fluxpay/fluxpay/internal/transfer"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := &Config{AppEnv: "development", RateLimitPerMinute: 1000}
	metrics := observability.NewMetrics()
	handler := transfer.NewHandler(nil, nil, nil, logger)
	return NewRouter(RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		TransferHandler: handler,
	})
}

func TestRouterHealthz(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

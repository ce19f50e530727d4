package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fluxpay/fluxpay/internal/app"
	"github.com/fluxpay/fluxpay/internal/idempotency"
	"github.com/fluxpay/fluxpay/internal/observability"
	"github.com/fluxpay/fluxpay/internal/platform/cache"
	"github.com/fluxpay/fluxpay/internal/platform/db"
	"github.com/fluxpay/fluxpay/internal/transfer"
	"github.com/fluxpay/fluxpay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	transferMetrics := observability.NewTransferMetrics(metrics.Registerer())

	guard := idempotency.NewGuard(redisClient, idempotency.Config{
		ProcessingTTL: cfg.IdempotencyProcessingTTL,
		SuccessTTL:    cfg.IdempotencySuccessTTL,
		FailureTTL:    cfg.IdempotencyFailureTTL,
	}, logger)

	repo := transfer.NewRepository(pool)
	service := transfer.NewService(repo, transfer.RetryPolicy{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}, logger)
	orchestrator := transfer.NewOrchestrator(guard, service, logger, transferMetrics, cfg.BatchConcurrency)

	queueClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	handler := transfer.NewHandler(orchestrator, repo, queueClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		TransferHandler: handler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

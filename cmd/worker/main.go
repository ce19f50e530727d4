package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fluxpay/fluxpay/internal/app"
	"github.com/fluxpay/fluxpay/internal/idempotency"
	"github.com/fluxpay/fluxpay/internal/platform/cache"
	"github.com/fluxpay/fluxpay/internal/platform/db"
	"github.com/fluxpay/fluxpay/internal/transfer"
	"github.com/fluxpay/fluxpay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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
	orchestrator := transfer.NewOrchestrator(guard, service, logger, nil, cfg.BatchConcurrency)

	batchJob := jobs.NewBatchJob(orchestrator, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTransferBatch, Handler: batchJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

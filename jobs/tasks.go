package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/fluxpay/fluxpay/internal/transfer"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTransferBatch is the task type for asynchronous transfer batches.
	TaskTransferBatch = "transfer:batch"
)

// TransferBatchPayload carries the requests of one queued batch.
type TransferBatchPayload struct {
	Requests []transfer.Request `json:"requests"`
}

// NewTransferBatchTask constructs an Asynq task for a transfer batch.
// Queue-level retries stay disabled: the idempotency guard already makes
// redelivery safe, and a second run would only produce ALREADY_* outcomes.
func NewTransferBatchTask(reqs []transfer.Request) (*asynq.Task, error) {
	data, err := json.Marshal(TransferBatchPayload{Requests: reqs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTransferBatch, data, asynq.MaxRetry(0), asynq.Queue(QueueDefault)), nil
}

// BatchJob processes queued transfer batches.
type BatchJob struct {
	orchestrator *transfer.Orchestrator
	logger       *slog.Logger
}

// NewBatchJob builds the batch job handler.
func NewBatchJob(orchestrator *transfer.Orchestrator, logger *slog.Logger) *BatchJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchJob{orchestrator: orchestrator, logger: logger}
}

// Handle processes one TaskTransferBatch task.
func (j *BatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload TransferBatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Error("malformed batch payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	summary := j.orchestrator.ProcessBatch(ctx, payload.Requests)
	j.logger.Info("batch processed",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed))
	return nil
}

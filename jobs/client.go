package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/fluxpay/fluxpay/internal/transfer"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueBatch enqueues a transfer batch and returns the task id.
func (c *Client) EnqueueBatch(ctx context.Context, reqs []transfer.Request) (string, error) {
	task, err := NewTransferBatchTask(reqs)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

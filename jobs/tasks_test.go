package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fluxpay/fluxpay/internal/idempotency"
	"github.com/fluxpay/fluxpay/internal/transfer"
	_ "github.com/fluxpay/fluxpay/testing"
)

// accountsRepo is a minimal in-memory transfer.Repository for job tests.
type accountsRepo struct {
	mu       sync.Mutex
	accounts map[string]*transfer.Account
	entries  int
}

func (r *accountsRepo) WithTx(ctx context.Context, fn func(context.Context, transfer.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, (*accountsTx)(r))
}

type accountsTx accountsRepo

func (r *accountsTx) FindAccount(ctx context.Context, id string) (*transfer.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, &transfer.AccountNotFoundError{AccountID: id}
	}
	return account, nil
}

func (r *accountsTx) SaveAccount(ctx context.Context, account *transfer.Account) error {
	r.accounts[account.ID] = account
	return nil
}

func (r *accountsTx) AppendEntry(ctx context.Context, entry *transfer.LedgerEntry) error {
	r.entries++
	return nil
}

func (r *accountsRepo) CreateAccount(ctx context.Context, account *transfer.Account) error {
	return errors.New("not implemented")
}

func (r *accountsRepo) GetAccount(ctx context.Context, id string) (*transfer.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, &transfer.AccountNotFoundError{AccountID: id}
	}
	return account, nil
}

func (r *accountsRepo) ListEntries(ctx context.Context, accountID string) ([]transfer.LedgerEntry, error) {
	return nil, nil
}

func newTestBatchJob(t *testing.T, repo transfer.Repository) *BatchJob {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.DiscardHandler)
	guard := idempotency.NewGuard(client, idempotency.DefaultConfig(), logger)
	svc := transfer.NewService(repo, transfer.DefaultRetryPolicy(), logger)
	orch := transfer.NewOrchestrator(guard, svc, logger, nil, 4)
	return NewBatchJob(orch, logger)
}

func TestTransferBatchTaskRoundTrip(t *testing.T) {
	reqs := []transfer.Request{
		{
			EventID:       "evt-1",
			Source:        transfer.Leg{AccountID: "acc-a", Currency: "USD", Amount: 100},
			Destination:   transfer.Leg{AccountID: "acc-b", Currency: "USD", Amount: 100},
			OperationDate: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		},
	}
	task, err := NewTransferBatchTask(reqs)
	require.NoError(t, err)
	require.Equal(t, TaskTransferBatch, task.Type())

	var payload TransferBatchPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, reqs, payload.Requests)
}

func TestBatchJobHandle(t *testing.T) {
	repo := &accountsRepo{accounts: map[string]*transfer.Account{
		"acc-a": {ID: "acc-a", Balance: 100_00, Currency: "USD", Version: 1},
		"acc-b": {ID: "acc-b", Balance: 0, Currency: "USD", Version: 1},
	}}
	job := newTestBatchJob(t, repo)

	task, err := NewTransferBatchTask([]transfer.Request{
		{
			EventID:       "evt-1",
			Source:        transfer.Leg{AccountID: "acc-a", Currency: "USD", Amount: 25_00},
			Destination:   transfer.Leg{AccountID: "acc-b", Currency: "USD", Amount: 25_00},
			OperationDate: time.Now(),
		},
	})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))

	account, err := repo.GetAccount(context.Background(), "acc-a")
	require.NoError(t, err)
	require.Equal(t, int64(75_00), account.Balance)
}

func TestBatchJobHandleMalformedPayload(t *testing.T) {
	job := newTestBatchJob(t, &accountsRepo{accounts: map[string]*transfer.Account{}})

	task := asynq.NewTask(TaskTransferBatch, []byte("not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

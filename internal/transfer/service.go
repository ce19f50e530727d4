package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// RetryPolicy bounds how the service reacts to optimistic conflicts.
// Delays double per attempt from BaseDelay up to MaxDelay, then get scaled by
// a random jitter factor in [0.75, 1.25] and floored back at BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

const maxBackoffShift = 32

// Delay computes the jittered backoff before the given retry attempt.
// Attempts are 1-based; Delay(1) follows the first failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	} else if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := p.BaseDelay << shift
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	jitter := 0.75 + rand.Float64()*0.5
	d = time.Duration(float64(d) * jitter)
	if d < p.BaseDelay {
		d = p.BaseDelay
	}
	return d
}

// Service applies validated transfers against the repository. One Process
// call either commits both account mutations and both ledger entries, or
// commits nothing.
type Service struct {
	repo   Repository
	policy RetryPolicy
	logger *slog.Logger
}

// NewService builds the transfer service.
func NewService(repo Repository, policy RetryPolicy, logger *slog.Logger) *Service {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, policy: policy, logger: logger}
}

// Process runs one transfer to completion. Version conflicts are retried with
// jittered exponential backoff up to the policy bound; validation failures
// propagate immediately and are never retried. Exhausting the budget returns
// a *ProcessingError wrapping the last conflict.
func (s *Service) Process(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := s.apply(ctx, req)
		if err == nil {
			s.logger.Info("transfer applied",
				slog.String("event_id", req.EventID),
				slog.Int("attempt", attempt))
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if attempt >= s.policy.MaxAttempts {
			s.logger.Error("retry budget exhausted",
				slog.String("event_id", req.EventID),
				slog.Int("attempts", attempt))
			return &ProcessingError{EventID: req.EventID, Attempts: attempt, Err: err}
		}

		delay := s.policy.Delay(attempt)
		s.logger.Warn("optimistic conflict, retrying",
			slog.String("event_id", req.EventID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay))
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("transfer: event %s interrupted during backoff: %w", req.EventID, err)
		}
	}
}

// apply performs one attempt inside a single transactional unit.
func (s *Service) apply(ctx context.Context, req Request) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := fetchOrdered(ctx, tx, req.Source.AccountID, req.Destination.AccountID)
		if err != nil {
			return err
		}
		source := accounts[req.Source.AccountID]
		destination := accounts[req.Destination.AccountID]

		if source.Currency != req.Source.Currency {
			return &CurrencyMismatchError{AccountID: source.ID, Want: source.Currency, Got: req.Source.Currency}
		}
		if destination.Currency != req.Destination.Currency {
			return &CurrencyMismatchError{AccountID: destination.ID, Want: destination.Currency, Got: req.Destination.Currency}
		}

		if err := source.Debit(req.Source.Amount); err != nil {
			return err
		}
		destination.Credit(req.Destination.Amount)

		now := time.Now()
		debit := &LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     source.ID,
			EventID:       req.EventID,
			Currency:      req.Source.Currency,
			Amount:        req.Source.Amount,
			BalanceAfter:  source.Balance,
			Type:          EntryDebit,
			Status:        EntryApplied,
			OperationDate: req.OperationDate,
			ProcessedAt:   now,
		}
		credit := &LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     destination.ID,
			EventID:       req.EventID,
			Currency:      req.Destination.Currency,
			Amount:        req.Destination.Amount,
			BalanceAfter:  destination.Balance,
			Type:          EntryCredit,
			Status:        EntryApplied,
			OperationDate: req.OperationDate,
			ProcessedAt:   now,
		}

		// Save in the same sorted order the accounts were fetched in.
		for _, id := range orderedPair(req.Source.AccountID, req.Destination.AccountID) {
			if err := tx.SaveAccount(ctx, accounts[id]); err != nil {
				return err
			}
		}
		if err := tx.AppendEntry(ctx, debit); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, credit)
	})
}

// orderedPair returns the distinct account ids in lexicographic order. Any
// two transfers touching the same pair of accounts act on them in the same
// global order, so contention resolves via version conflicts, never deadlock.
func orderedPair(a, b string) []string {
	if a == b {
		return []string{a}
	}
	if a > b {
		a, b = b, a
	}
	return []string{a, b}
}

// fetchOrdered loads the participant accounts in their fixed global order.
// A self-transfer degenerates to a single lookup.
func fetchOrdered(ctx context.Context, tx TxRepository, sourceID, destinationID string) (map[string]*Account, error) {
	accounts := make(map[string]*Account, 2)
	for _, id := range orderedPair(sourceID, destinationID) {
		account, err := tx.FindAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

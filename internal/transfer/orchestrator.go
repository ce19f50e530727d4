package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluxpay/fluxpay/internal/observability"
)

// Guard arbitrates single-owner processing per event across all instances.
// Implemented by the idempotency package.
type Guard interface {
	IsProcessed(ctx context.Context, eventID string) bool
	TryMarkProcessing(ctx context.Context, eventID string) bool
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
	Release(ctx context.Context, eventID string) error
	FailureReason(ctx context.Context, eventID string) (string, bool)
}

// Orchestrator fans transfer requests out to bounded concurrent execution,
// guarding each event so it is applied at most once system-wide.
type Orchestrator struct {
	guard       Guard
	service     *Service
	logger      *slog.Logger
	metrics     *observability.TransferMetrics
	concurrency int
}

// NewOrchestrator builds the orchestrator. concurrency bounds how many
// requests of one batch run at the same time; values below 1 fall back to 1.
func NewOrchestrator(guard Guard, service *Service, logger *slog.Logger, metrics *observability.TransferMetrics, concurrency int) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		guard:       guard,
		service:     service,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// ProcessSingle runs one request through the guard pipeline to its terminal
// outcome. It never returns an error; every failure mode is an Outcome.
func (o *Orchestrator) ProcessSingle(ctx context.Context, req Request) Outcome {
	return o.run(ctx, req)
}

// ProcessBatch runs every request concurrently and returns one outcome per
// request, correlated by position. Individual failures never abort siblings,
// and the batch call itself never fails.
func (o *Orchestrator) ProcessBatch(ctx context.Context, reqs []Request) BatchSummary {
	outcomes := make([]Outcome, len(reqs))

	g := &errgroup.Group{}
	g.SetLimit(o.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			outcomes[i] = o.run(ctx, req)
			return nil
		})
	}
	// Pipeline functions never return errors; Wait only joins completion.
	_ = g.Wait()

	summary := BatchSummary{Total: len(reqs), Outcomes: outcomes}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case StatusSuccess:
			summary.Succeeded++
		case StatusFailed:
			summary.Failed++
		}
	}
	return summary
}

func (o *Orchestrator) run(ctx context.Context, req Request) (outcome Outcome) {
	start := time.Now()
	defer func() {
		o.metrics.RecordOutcome(string(outcome.Status))
		o.metrics.RecordDuration(time.Since(start))
	}()

	eventID := req.EventID
	if eventID == "" {
		return FailedOutcome(eventID, "event id required")
	}

	if o.guard.IsProcessed(ctx, eventID) {
		o.logger.Info("event already processed, skipping", slog.String("event_id", eventID))
		return AlreadyProcessedOutcome(eventID)
	}
	if !o.guard.TryMarkProcessing(ctx, eventID) {
		// A refused claim is either a live owner or a terminal FAILED record;
		// the failure record carries the reason to report back.
		if reason, ok := o.guard.FailureReason(ctx, eventID); ok {
			o.logger.Info("event previously failed, not re-attempting",
				slog.String("event_id", eventID), slog.String("reason", reason))
			message := "event previously failed"
			if reason != "" {
				message += ": " + reason
			}
			return FailedOutcome(eventID, message)
		}
		o.logger.Warn("event already owned by another worker", slog.String("event_id", eventID))
		return AlreadyProcessingOutcome(eventID)
	}

	err := o.service.Process(ctx, req)
	if err == nil {
		if markErr := o.guard.MarkProcessed(ctx, eventID); markErr != nil {
			o.logger.Warn("mark processed failed",
				slog.String("event_id", eventID), slog.Any("error", markErr))
		}
		return SuccessOutcome(eventID)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The attempt never reached a terminal state; free the marker so a
		// later delivery can claim the event. The cancelled context must not
		// take the cleanup call down with it.
		if relErr := o.guard.Release(context.WithoutCancel(ctx), eventID); relErr != nil {
			o.logger.Warn("release failed",
				slog.String("event_id", eventID), slog.Any("error", relErr))
		}
		return FailedOutcome(eventID, err.Error())
	}

	o.logger.Error("event processing failed",
		slog.String("event_id", eventID), slog.Any("error", err))
	if markErr := o.guard.MarkFailed(ctx, eventID, err.Error()); markErr != nil {
		o.logger.Warn("mark failed failed",
			slog.String("event_id", eventID), slog.Any("error", markErr))
	}
	return FailedOutcome(eventID, err.Error())
}

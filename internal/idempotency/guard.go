// Package idempotency arbitrates which worker may process a given event and
// remembers terminal outcomes, backed by a Redis store shared across all
// processing instances.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statePrefix      = "transfer:event:"
	processingPrefix = "transfer:processing:"

	stateSuccess = "SUCCESS"
	stateFailed  = "FAILED"
)

// Config carries the guard's expiry windows. The processing TTL keeps a
// crashed worker from wedging an event forever; the terminal TTLs act as the
// deduplication window, not infinite history.
type Config struct {
	ProcessingTTL time.Duration
	SuccessTTL    time.Duration
	FailureTTL    time.Duration
}

// DefaultConfig returns the guard's stock expiry windows.
func DefaultConfig() Config {
	return Config{
		ProcessingTTL: 5 * time.Minute,
		SuccessTTL:    24 * time.Hour,
		FailureTTL:    24 * time.Hour,
	}
}

// Guard is the cross-instance exclusivity gate for event processing. Store
// errors are swallowed: lookups that fail report "cannot confirm" and acquire
// attempts that fail report "not acquired", so a flaky store degrades into
// reprocessing risk instead of stuck events.
type Guard struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
}

// NewGuard constructs a Guard over the shared Redis client.
func NewGuard(client redis.UniversalClient, cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{client: client, cfg: cfg, logger: logger}
}

// IsProcessed reports whether a terminal SUCCESS record exists for eventID.
func (g *Guard) IsProcessed(ctx context.Context, eventID string) bool {
	state, err := g.client.Get(ctx, statePrefix+eventID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("idempotency lookup failed",
				slog.String("event_id", eventID), slog.Any("error", err))
		}
		return false
	}
	return state == stateSuccess
}

// TryMarkProcessing atomically claims eventID for this worker. It returns
// false when another owner holds the marker, when a terminal record already
// exists, or when the store cannot be reached.
//
// The set-if-absent on the processing marker is the entire gate; the terminal
// lookup afterwards only demotes a claim that raced a completing owner. The
// order matters: terminal states are written before the marker is cleared
// (MarkProcessed, MarkFailed), so any claim won on a freed marker sees the
// terminal record on the follow-up check.
func (g *Guard) TryMarkProcessing(ctx context.Context, eventID string) bool {
	ok, err := g.client.SetNX(ctx, processingPrefix+eventID, "1", g.cfg.ProcessingTTL).Result()
	if err != nil {
		g.logger.Warn("idempotency acquire failed",
			slog.String("event_id", eventID), slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}
	exists, err := g.client.Exists(ctx, statePrefix+eventID).Result()
	if err != nil || exists > 0 {
		if err != nil {
			g.logger.Warn("idempotency state check failed",
				slog.String("event_id", eventID), slog.Any("error", err))
		}
		if relErr := g.client.Del(ctx, processingPrefix+eventID).Err(); relErr != nil {
			g.logger.Warn("idempotency release failed",
				slog.String("event_id", eventID), slog.Any("error", relErr))
		}
		return false
	}
	return true
}

// MarkProcessed records the terminal SUCCESS state and clears the processing
// marker.
func (g *Guard) MarkProcessed(ctx context.Context, eventID string) error {
	if err := g.client.Set(ctx, statePrefix+eventID, stateSuccess, g.cfg.SuccessTTL).Err(); err != nil {
		return err
	}
	return g.client.Del(ctx, processingPrefix+eventID).Err()
}

// MarkFailed records the terminal FAILED state with its reason and clears the
// processing marker. Failed events are not re-attempted automatically.
func (g *Guard) MarkFailed(ctx context.Context, eventID, reason string) error {
	value := stateFailed
	if reason != "" {
		value = stateFailed + ":" + reason
	}
	if err := g.client.Set(ctx, statePrefix+eventID, value, g.cfg.FailureTTL).Err(); err != nil {
		return err
	}
	return g.client.Del(ctx, processingPrefix+eventID).Err()
}

// Release clears the processing marker without recording a terminal state,
// allowing a later attempt to claim the event again.
func (g *Guard) Release(ctx context.Context, eventID string) error {
	return g.client.Del(ctx, processingPrefix+eventID).Err()
}

// FailureReason returns the recorded reason for a FAILED event, if any.
func (g *Guard) FailureReason(ctx context.Context, eventID string) (string, bool) {
	state, err := g.client.Get(ctx, statePrefix+eventID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("idempotency lookup failed",
				slog.String("event_id", eventID), slog.Any("error", err))
		}
		return "", false
	}
	if state == stateFailed {
		return "", true
	}
	if rest, ok := strings.CutPrefix(state, stateFailed+":"); ok {
		return rest, true
	}
	return "", false
}

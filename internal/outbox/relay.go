package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/metrics"
)

// maxRetries is the number of publish attempts per tick before the batch is
// left for the next tick.
const maxRetries = 3

// Relay polls unpublished notifications and publishes them. Rows are marked
// published only after the broker accepted them, so delivery is
// at-least-once: a crash between publish and mark republishes the batch.
type Relay struct {
	db        *database.DB
	publisher Publisher
	logger    *zap.Logger

	batchSize int
	interval  time.Duration
	backoff   time.Duration
	now       func() time.Time
}

// NewRelay creates a relay.
func NewRelay(db *database.DB, publisher Publisher, batchSize int, interval time.Duration, logger *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		backoff:   time.Second,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, relaying until ctx is cancelled. A full batch is followed
// immediately by another tick; otherwise the relay sleeps for the interval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.batchSize),
		zap.Duration("interval", r.interval),
	)

	for {
		n, err := r.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("outbox tick failed", zap.Error(err))
		}

		wait := r.interval
		if err == nil && n == r.batchSize {
			wait = 0
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// Tick publishes one batch and returns how many notifications it marked as
// published.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	store := r.db.Store()
	pending, err := store.ListUnpublishedNotifications(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished: %w", err)
	}
	metrics.OutboxBacklog.Set(float64(len(pending)))
	if len(pending) == 0 {
		return 0, nil
	}

	events := make([]Event, len(pending))
	ids := make([]string, len(pending))
	for i, n := range pending {
		events[i] = EventFromNotification(n)
		ids[i] = n.ID
	}

	if err := r.publish(ctx, events); err != nil {
		metrics.OutboxPublishedTotal.WithLabelValues("failed").Add(float64(len(events)))
		return 0, err
	}

	if err := store.MarkNotificationsPublished(ctx, ids, r.now()); err != nil {
		// Already on the broker; they will be sent again next tick.
		return 0, fmt.Errorf("mark published: %w", err)
	}
	metrics.OutboxPublishedTotal.WithLabelValues("published").Add(float64(len(events)))
	r.logger.Debug("outbox batch published", zap.Int("count", len(events)))
	return len(events), nil
}

// publish tries up to maxRetries times with linear backoff.
func (r *Relay) publish(ctx context.Context, events []Event) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = r.publisher.Publish(ctx, events)
		if lastErr == nil {
			return nil
		}
		r.logger.Warn("outbox publish attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Int("batch", len(events)),
			zap.Error(lastErr),
		)
		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * r.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("publish %d events: %w", len(events), lastErr)
}

package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type RelayConfig struct {
	PollEvery time.Duration
	BatchSize int
}

// Relay moves events from the storage outbox to a Publisher. Delivery is at least once;
// consumers deduplicate on the event_id header.
type Relay struct {
	outbox    storage.Outbox
	publisher Publisher
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewRelay(outbox storage.Outbox, publisher Publisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run flushes the outbox every poll interval until ctx is done, then makes one last attempt.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pollEvery)
			r.flushAndLog(final)
			cancel()
			return
		case <-ticker.C:
			r.flushAndLog(ctx)
		}
	}
}

func (r *Relay) flushAndLog(ctx context.Context) {
	n, err := r.Flush(ctx)
	if n > 0 {
		r.logger.Debug("outbox events published", "count", n)
	}
	if err != nil {
		r.logger.Error("outbox publish failed", "published", n, "err", err)
	}
}

// Flush publishes batches until the outbox is empty or a batch fails. It returns how many
// events were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	publish := func(ctx context.Context, batch []storage.OutboxEvent) error {
		return r.publisher.Publish(ctx, batch...)
	}
	var total int
	for {
		n, err := r.outbox.DrainOutbox(ctx, r.batchSize, publish)
		total += n
		if err != nil || n < r.batchSize {
			return total, err
		}
	}
}

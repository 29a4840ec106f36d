package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/event"
	"github.com/eventrhq/eventr/internal/logging"
	"github.com/eventrhq/eventr/internal/metrics"
)

// Store is the outbox state the poller drains.
type Store interface {
	// UnprocessedEvents returns up to limit unprocessed events in
	// occurred_at order.
	UnprocessedEvents(ctx context.Context, limit int) ([]event.DomainEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

// Handler receives each drained event. In production this is the dispatcher.
type Handler interface {
	Dispatch(ctx context.Context, ev *event.DomainEvent) (int, error)
}

// Poller drains the outbox on a fixed interval. It never advances past an
// event it failed to hand off: a dispatch or mark-processed error aborts the
// cycle and the same event is retried next tick. Combined with the
// dispatcher's idempotent enqueue, a crash between handoff and mark is safe.
type Poller struct {
	store    Store
	handler  Handler
	logger   *logging.Logger
	interval time.Duration
	batch    int
}

// NewPoller wires a poller.
func NewPoller(store Store, handler Handler, logger *logging.Logger, interval time.Duration, batch int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batch < 1 {
		batch = 100
	}
	return &Poller{store: store, handler: handler, logger: logger, interval: interval, batch: batch}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Plain().WithField("interval", p.interval.String()).Info("outbox poller starting")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Plain().Info("outbox poller stopped")
			return
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithContext(ctx).WithError(err).Error("outbox poll failed")
			}
		}
	}
}

// PollOnce drains one batch. Events are handed off strictly in creation
// order; the first failure stops the cycle so nothing is skipped.
func (p *Poller) PollOnce(ctx context.Context) error {
	events, err := p.store.UnprocessedEvents(ctx, p.batch)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}
	metrics.OutboxBacklog.Set(float64(len(events)))
	for i := range events {
		ev := &events[i]
		if _, err := p.handler.Dispatch(ctx, ev); err != nil {
			return fmt.Errorf("dispatch event %s: %w", ev.ID, err)
		}
		if err := p.store.MarkProcessed(ctx, ev.ID); err != nil {
			return fmt.Errorf("mark processed %s: %w", ev.ID, err)
		}
		metrics.EventsDispatchedTotal.Inc()
	}
	return nil
}

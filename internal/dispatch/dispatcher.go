// Package dispatch fans a domain event out to its matching subscriptions,
// creating exactly one first delivery attempt per match.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/eventrhq/eventr/internal/delivery"
	"github.com/eventrhq/eventr/internal/event"
	"github.com/eventrhq/eventr/internal/logging"
	"github.com/eventrhq/eventr/internal/metrics"
	"github.com/eventrhq/eventr/internal/subscription"
	"github.com/eventrhq/eventr/internal/tracing"
)

// SubscriptionSource resolves which subscriptions an event fans out to.
// Matching happens here, at enqueue time only; later subscription edits do
// not touch tasks that already exist.
type SubscriptionSource interface {
	SubscriptionsFor(ctx context.Context, t event.Type) ([]subscription.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
}

// AttemptStore persists first attempts. InsertFirstAttempt is guarded by the
// (event, subscription, sequence, attempt) uniqueness, so re-dispatching the
// same event is a no-op per subscription.
type AttemptStore interface {
	InsertFirstAttempt(ctx context.Context, a *delivery.Attempt) (bool, error)
	// NextSequence returns 1 + the highest existing sequence for the pair,
	// or 1 when none exists.
	NextSequence(ctx context.Context, eventID, subscriptionID uuid.UUID) (int, error)
}

// redeliverRetries bounds sequence recomputation when concurrent redelivers
// race for the same slot.
const redeliverRetries = 3

// Dispatcher matches events to subscriptions and enqueues delivery tasks.
type Dispatcher struct {
	subs   SubscriptionSource
	store  AttemptStore
	logger *logging.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(subs SubscriptionSource, store AttemptStore, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{subs: subs, store: store, logger: logger}
}

// Dispatch enqueues one attempt-1 task per active matching subscription and
// returns the fanout count. The wire body is serialized exactly once and
// snapshotted onto every attempt row, so each retry signs and sends the same
// bytes. Safe to call twice for the same event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.DomainEvent) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.event",
		attribute.String("event_id", ev.ID.String()),
		attribute.String("event_type", string(ev.Type)),
	)
	defer span.End()

	matches, err := d.subs.SubscriptionsFor(ctx, ev.Type)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("match subscriptions: %w", err)
	}
	span.SetAttributes(attribute.Int("subscribers_count", len(matches)))
	metrics.DispatchFanout.Observe(float64(len(matches)))
	if len(matches) == 0 {
		return 0, nil
	}

	body, err := ev.WireBody()
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("serialize event %s: %w", ev.ID, err)
	}

	now := time.Now().UTC()
	fanout := 0
	for _, sub := range matches {
		inserted, err := d.store.InsertFirstAttempt(ctx, &delivery.Attempt{
			ID:             uuid.New(),
			EventID:        ev.ID,
			SubscriptionID: sub.ID,
			Sequence:       1,
			Attempt:        1,
			Status:         delivery.StatusPending,
			Body:           body,
			ScheduledAt:    now,
			CreatedAt:      now,
		})
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return fanout, fmt.Errorf("enqueue attempt for subscription %s: %w", sub.ID, err)
		}
		if !inserted {
			// Duplicate dispatch (poller retry after a crash); already enqueued.
			tracing.AddSpanEvent(ctx, "dispatch.duplicate",
				attribute.String("subscription_id", sub.ID.String()))
			continue
		}
		fanout++
	}

	d.logger.WithContext(ctx).
		WithEvent(ev.ID.String()).
		WithFields(map[string]any{"event_type": ev.Type, "fanout": fanout}).
		Info("event dispatched")
	span.SetAttributes(attribute.Int("fanout_count", fanout))
	return fanout, nil
}

// Redeliver opens a fresh attempt sequence for one (event, subscription)
// pair, independent of any prior chain. Used by the admin redeliver action
// after exhaustion.
func (d *Dispatcher) Redeliver(ctx context.Context, ev *event.DomainEvent, subscriptionID uuid.UUID) (*delivery.Attempt, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.redeliver",
		attribute.String("event_id", ev.ID.String()),
		attribute.String("subscription_id", subscriptionID.String()),
	)
	defer span.End()

	sub, err := d.subs.Get(ctx, subscriptionID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	body, err := ev.WireBody()
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("serialize event %s: %w", ev.ID, err)
	}

	// A concurrent redeliver can claim the computed sequence between
	// NextSequence and the insert; the uniqueness constraint reports that as
	// inserted=false, so recompute and try the next slot.
	for i := 0; i < redeliverRetries; i++ {
		seq, err := d.store.NextSequence(ctx, ev.ID, sub.ID)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return nil, fmt.Errorf("next sequence: %w", err)
		}

		now := time.Now().UTC()
		a := &delivery.Attempt{
			ID:             uuid.New(),
			EventID:        ev.ID,
			SubscriptionID: sub.ID,
			Sequence:       seq,
			Attempt:        1,
			Status:         delivery.StatusPending,
			Body:           body,
			ScheduledAt:    now,
			CreatedAt:      now,
		}
		inserted, err := d.store.InsertFirstAttempt(ctx, a)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return nil, fmt.Errorf("enqueue redelivery: %w", err)
		}
		if !inserted {
			tracing.AddSpanEvent(ctx, "dispatch.redeliver_sequence_taken",
				attribute.Int("sequence", seq))
			continue
		}
		d.logger.WithContext(ctx).
			WithEvent(ev.ID.String()).
			WithSubscription(sub.ID.String()).
			WithField("sequence", seq).
			Info("redelivery enqueued")
		return a, nil
	}
	err = fmt.Errorf("enqueue redelivery for event %s: sequence contention", ev.ID)
	tracing.SetSpanError(ctx, err)
	return nil, err
}

// Package outbox implements the transactional outbox: domain events are
// written in the same transaction as the business mutation that caused them,
// then drained asynchronously by the Poller. This closes the dual-write gap
// where a commit succeeds but the in-memory publish is lost on crash.
package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/eventrhq/eventr/internal/event"
	"github.com/eventrhq/eventr/internal/metrics"
)

// InsertTx writes ev into the outbox inside the caller's transaction. The
// business code calls this right next to its own statements, so the event
// commits or rolls back with them.
func InsertTx(ctx context.Context, tx pgx.Tx, ev *event.DomainEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO eventr.outbox_events(id, event_type, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)`,
		ev.ID, string(ev.Type), ev.AggregateID, string(ev.Payload), ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	metrics.EventsOutboxedTotal.Inc()
	return nil
}

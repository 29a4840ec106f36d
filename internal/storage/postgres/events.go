package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/event"
)

// InsertEvent writes an event outside a business transaction. Business code
// that owns a transaction should use outbox.InsertTx instead.
func (s *Store) InsertEvent(ctx context.Context, ev *event.DomainEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO eventr.outbox_events(id, event_type, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)`,
		ev.ID, string(ev.Type), ev.AggregateID, string(ev.Payload), ev.OccurredAt,
	)
	return wrap("insert event", err)
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*event.DomainEvent, error) {
	var ev event.DomainEvent
	err := s.pool.QueryRow(ctx, `
		SELECT id, event_type, aggregate_id, payload, occurred_at, processed
		FROM eventr.outbox_events WHERE id = $1`,
		id,
	).Scan(&ev.ID, &ev.Type, &ev.AggregateID, &ev.Payload, &ev.OccurredAt, &ev.Processed)
	if err != nil {
		return nil, wrap("get event", err)
	}
	return &ev, nil
}

// UnprocessedEvents returns up to limit unprocessed events in occurred_at
// order, for the outbox poller.
func (s *Store) UnprocessedEvents(ctx context.Context, limit int) ([]event.DomainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, aggregate_id, payload, occurred_at, processed
		FROM eventr.outbox_events
		WHERE NOT processed
		ORDER BY occurred_at, id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrap("unprocessed events", err)
	}
	defer rows.Close()

	var out []event.DomainEvent
	for rows.Next() {
		var ev event.DomainEvent
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.AggregateID, &ev.Payload, &ev.OccurredAt, &ev.Processed); err != nil {
			return nil, wrap("scan event", err)
		}
		out = append(out, ev)
	}
	return out, wrap("unprocessed events", rows.Err())
}

// MarkProcessed flips the processed flag after a successful dispatch handoff.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE eventr.outbox_events
		SET processed = TRUE, processed_at = now()
		WHERE id = $1`,
		id,
	)
	return wrap("mark processed", err)
}

package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventrhq/eventr/internal/delivery"
)

// InsertFirstAttempt inserts attempt 1 of a sequence. The unique constraint
// on (event_id, subscription_id, sequence, attempt) makes re-dispatch a
// no-op: the second insert reports inserted=false.
func (s *Store) InsertFirstAttempt(ctx context.Context, a *delivery.Attempt) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO eventr.deliveries
			(id, event_id, subscription_id, sequence, attempt, status, body, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT uq_deliveries_chain DO NOTHING`,
		a.ID, a.EventID, a.SubscriptionID, a.Sequence, a.Attempt,
		string(a.Status), a.Body, a.ScheduledAt, a.CreatedAt,
	)
	if err != nil {
		return false, wrap("insert first attempt", err)
	}
	return ct.RowsAffected() > 0, nil
}

// InsertAttempt appends a retry row; a conflict here means the retry was
// already scheduled by a competing worker and is an error upstream.
func (s *Store) InsertAttempt(ctx context.Context, a *delivery.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO eventr.deliveries
			(id, event_id, subscription_id, sequence, attempt, status, body, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.EventID, a.SubscriptionID, a.Sequence, a.Attempt,
		string(a.Status), a.Body, a.ScheduledAt, a.CreatedAt,
	)
	return wrap("insert attempt", err)
}

// NextSequence returns the next free sequence number for a pair.
func (s *Store) NextSequence(ctx context.Context, eventID, subscriptionID uuid.UUID) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1
		FROM eventr.deliveries
		WHERE event_id = $1 AND subscription_id = $2`,
		eventID, subscriptionID,
	).Scan(&next)
	if err != nil {
		return 0, wrap("next sequence", err)
	}
	return next, nil
}

// ClaimDue leases due pending tasks for active subscriptions. SKIP LOCKED
// keeps concurrent claimers from picking the same rows; an expired lease
// makes a row claimable again so a crashed worker's task is redelivered.
func (s *Store) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]delivery.Task, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT d.id
			FROM eventr.deliveries d
			JOIN eventr.subscriptions sub ON sub.id = d.subscription_id
			WHERE d.status = 'pending'
			  AND d.scheduled_at <= now()
			  AND (d.claim_expires_at IS NULL OR d.claim_expires_at < now())
			  AND sub.active
			ORDER BY d.scheduled_at
			LIMIT $1
			FOR UPDATE OF d SKIP LOCKED
		)
		UPDATE eventr.deliveries d
		SET claimed_at = now(),
		    claim_expires_at = now() + make_interval(secs => $2)
		FROM due, eventr.subscriptions sub, eventr.outbox_events ev
		WHERE d.id = due.id AND sub.id = d.subscription_id AND ev.id = d.event_id
		RETURNING d.id, d.event_id, d.subscription_id, ev.event_type, sub.url, sub.secret,
		          d.body, d.sequence, d.attempt, ev.occurred_at`,
		limit, leaseSeconds(lease),
	)
	if err != nil {
		return nil, wrap("claim due", err)
	}
	defer rows.Close()

	var out []delivery.Task
	for rows.Next() {
		var t delivery.Task
		if err := rows.Scan(&t.AttemptID, &t.EventID, &t.SubscriptionID, &t.EventType,
			&t.URL, &t.Secret, &t.Body, &t.Sequence, &t.Attempt, &t.OccurredAt); err != nil {
			return nil, wrap("scan task", err)
		}
		out = append(out, t)
	}
	return out, wrap("claim due", rows.Err())
}

// ReleaseClaim returns an unstarted task to the queue.
func (s *Store) ReleaseClaim(ctx context.Context, attemptID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE eventr.deliveries
		SET claimed_at = NULL, claim_expires_at = NULL
		WHERE id = $1 AND status = 'pending'`,
		attemptID,
	)
	return wrap("release claim", err)
}

// MarkSent records when the POST left.
func (s *Store) MarkSent(ctx context.Context, attemptID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE eventr.deliveries SET sent_at = $2 WHERE id = $1`,
		attemptID, at,
	)
	return wrap("mark sent", err)
}

// CompleteAttempt persists the outcome on the ledger row. Only pending rows
// transition; a terminal row is never rewritten.
func (s *Store) CompleteAttempt(ctx context.Context, out delivery.Outcome) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE eventr.deliveries
		SET status = $2, http_status = NULLIF($3, 0), response_snippet = NULLIF($4, ''),
		    error_reason = NULLIF($5, ''), completed_at = $6
		WHERE id = $1 AND status = 'pending'`,
		out.AttemptID, string(out.Status), out.HTTPStatus, out.ResponseSnippet,
		out.ErrorReason, out.CompletedAt,
	)
	if err != nil {
		return wrap("complete attempt", err)
	}
	if ct.RowsAffected() == 0 {
		return wrap("complete attempt", pgx.ErrNoRows)
	}
	return nil
}

const attemptColumns = `id, event_id, subscription_id, sequence, attempt, status,
	COALESCE(http_status, 0), COALESCE(response_snippet, ''), COALESCE(error_reason, ''),
	scheduled_at, sent_at, completed_at, created_at`

func scanAttempt(row interface{ Scan(...any) error }) (*delivery.Attempt, error) {
	var a delivery.Attempt
	if err := row.Scan(&a.ID, &a.EventID, &a.SubscriptionID, &a.Sequence, &a.Attempt,
		&a.Status, &a.HTTPStatus, &a.ResponseSnippet, &a.ErrorReason,
		&a.ScheduledAt, &a.SentAt, &a.CompletedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// History returns the paginated attempt ledger for one subscription, newest
// first.
func (s *Store) History(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]delivery.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM eventr.deliveries
		WHERE subscription_id = $1
		ORDER BY created_at DESC, attempt DESC
		LIMIT $2 OFFSET $3`,
		subscriptionID, limit, offset,
	)
	if err != nil {
		return nil, wrap("delivery history", err)
	}
	defer rows.Close()

	var out []delivery.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, wrap("scan attempt", err)
		}
		out = append(out, *a)
	}
	return out, wrap("delivery history", rows.Err())
}

// SequenceStatus returns every attempt for one (event, subscription) pair,
// in sequence and attempt order.
func (s *Store) SequenceStatus(ctx context.Context, eventID, subscriptionID uuid.UUID) ([]delivery.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM eventr.deliveries
		WHERE event_id = $1 AND subscription_id = $2
		ORDER BY sequence, attempt`,
		eventID, subscriptionID,
	)
	if err != nil {
		return nil, wrap("sequence status", err)
	}
	defer rows.Close()

	var out []delivery.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, wrap("scan attempt", err)
		}
		out = append(out, *a)
	}
	return out, wrap("sequence status", rows.Err())
}

package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventrhq/eventr/internal/event"
	"github.com/eventrhq/eventr/internal/subscription"
)

const subscriptionColumns = `id, url, secret, event_types, active, consecutive_failures, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	var types []string
	if err := row.Scan(&sub.ID, &sub.URL, &sub.Secret, &types, &sub.Active,
		&sub.ConsecutiveFailures, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.EventTypes = make([]event.Type, len(types))
	for i, t := range types {
		sub.EventTypes[i] = event.Type(t)
	}
	return &sub, nil
}

func typeStrings(types []event.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func (s *Store) InsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO eventr.subscriptions(id, url, secret, event_types, active, consecutive_failures, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.URL, sub.Secret, typeStrings(sub.EventTypes), sub.Active,
		sub.ConsecutiveFailures, sub.CreatedAt, sub.UpdatedAt,
	)
	return wrap("insert subscription", err)
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM eventr.subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, wrap("get subscription", err)
	}
	return sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM eventr.subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, wrap("list subscriptions", err)
	}
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, wrap("scan subscription", err)
		}
		out = append(out, *sub)
	}
	return out, wrap("list subscriptions", rows.Err())
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE eventr.subscriptions
		SET url = $2, secret = $3, event_types = $4, active = $5,
		    consecutive_failures = $6, updated_at = $7
		WHERE id = $1`,
		sub.ID, sub.URL, sub.Secret, typeStrings(sub.EventTypes), sub.Active,
		sub.ConsecutiveFailures, sub.UpdatedAt,
	)
	if err != nil {
		return wrap("update subscription", err)
	}
	if ct.RowsAffected() == 0 {
		return wrap("update subscription", pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM eventr.subscriptions WHERE id = $1`, id)
	if err != nil {
		return wrap("delete subscription", err)
	}
	if ct.RowsAffected() == 0 {
		return wrap("delete subscription", pgx.ErrNoRows)
	}
	return nil
}

// ActiveSubscriptionsFor matches the event-type filter, including wildcard.
func (s *Store) ActiveSubscriptionsFor(ctx context.Context, t event.Type) ([]subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM eventr.subscriptions
		WHERE active AND ($1 = ANY(event_types) OR '*' = ANY(event_types))
		ORDER BY created_at`,
		string(t),
	)
	if err != nil {
		return nil, wrap("match subscriptions", err)
	}
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, wrap("scan subscription", err)
		}
		out = append(out, *sub)
	}
	return out, wrap("match subscriptions", rows.Err())
}

// ResetFailures zeroes the consecutive-failure counter after a success.
func (s *Store) ResetFailures(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE eventr.subscriptions
		SET consecutive_failures = 0, updated_at = now()
		WHERE id = $1 AND consecutive_failures <> 0`,
		id,
	)
	return wrap("reset failures", err)
}

// RecordExhaustion bumps the failure counter and deactivates the
// subscription when the counter reaches threshold. Returns the new counter
// and whether this call crossed the threshold.
func (s *Store) RecordExhaustion(ctx context.Context, id uuid.UUID, threshold int) (int, bool, error) {
	var failures int
	var active bool
	err := s.pool.QueryRow(ctx, `
		UPDATE eventr.subscriptions
		SET consecutive_failures = consecutive_failures + 1,
		    active = CASE WHEN consecutive_failures + 1 >= $2 THEN FALSE ELSE active END,
		    updated_at = now()
		WHERE id = $1
		RETURNING consecutive_failures, active`,
		id, threshold,
	).Scan(&failures, &active)
	if err != nil {
		return 0, false, wrap("record exhaustion", err)
	}
	return failures, failures == threshold, nil
}

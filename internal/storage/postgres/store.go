// Package postgres implements the delivery core's stores on pgx. All pickup
// locking uses FOR UPDATE SKIP LOCKED so concurrent workers never claim the
// same task.
package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventrhq/eventr/internal/storage"
)

// Store bundles the pgx-backed implementations of the event, subscription
// and delivery stores.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks and business
// transactions (outbox.InsertTx).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return storage.ErrDuplicate
	}
	return err
}

// leaseSeconds renders a lease duration for make_interval.
func leaseSeconds(lease time.Duration) float64 {
	if lease <= 0 {
		lease = time.Minute
	}
	return lease.Seconds()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, mapError(err))
}

package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/eventrhq/eventr/internal/alert"
	"github.com/eventrhq/eventr/internal/logging"
	"github.com/eventrhq/eventr/internal/metrics"
	"github.com/eventrhq/eventr/internal/storage"
	"github.com/eventrhq/eventr/internal/tracing"
)

// Store is the task queue and ledger the pool operates on. ClaimDue must be
// safe against concurrent claimers (row locks with skip-locked semantics in
// Postgres, a mutex in the in-memory store): two workers never get the same
// task.
type Store interface {
	// ClaimDue leases up to limit due pending tasks for active subscriptions,
	// earliest scheduled first. A leased task reappears after the lease
	// expires, so a worker crash costs a duplicate delivery, never a loss.
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Task, error)
	// ReleaseClaim returns an unstarted task to the queue.
	ReleaseClaim(ctx context.Context, attemptID uuid.UUID) error
	MarkSent(ctx context.Context, attemptID uuid.UUID, at time.Time) error
	// CompleteAttempt persists the outcome on the ledger row.
	CompleteAttempt(ctx context.Context, out Outcome) error
	// InsertAttempt appends the next pending attempt of a retry chain.
	InsertAttempt(ctx context.Context, a *Attempt) error
}

// SubscriptionState is the slice of subscription state the pool mutates.
type SubscriptionState interface {
	ResetFailures(ctx context.Context, id uuid.UUID) error
	// RecordExhaustion increments the consecutive-failure counter and, when it
	// reaches threshold, flips the subscription inactive. Returns the new
	// counter value and whether deactivation happened now.
	RecordExhaustion(ctx context.Context, id uuid.UUID, threshold int) (int, bool, error)
}

// Pool is the fixed-size delivery worker pool. Each worker loops: claim due
// tasks, sign, POST, classify, persist. Workers block only on the outbound
// HTTP call, which is bounded by the sender timeout.
type Pool struct {
	store     Store
	subs      SubscriptionState
	sched     *Scheduler
	sender    *Sender
	alerts    alert.Publisher
	logger    *logging.Logger
	workers   int
	interval  time.Duration
	lease     time.Duration
	threshold int
	batch     int
	inflight  *subscriptionLimiter
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers                      int
	PollInterval                 time.Duration
	ClaimLease                   time.Duration
	FailureDeactivationThreshold int
	PerSubscriptionInflight      int
	ClaimBatch                   int
}

// NewPool wires a worker pool. alerts may be alert.Nop{}.
func NewPool(store Store, subs SubscriptionState, sched *Scheduler, sender *Sender, alerts alert.Publisher, logger *logging.Logger, opts PoolOptions) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = time.Minute
	}
	if opts.PerSubscriptionInflight < 1 {
		opts.PerSubscriptionInflight = 5
	}
	if opts.ClaimBatch < 1 {
		opts.ClaimBatch = 10
	}
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &Pool{
		store:     store,
		subs:      subs,
		sched:     sched,
		sender:    sender,
		alerts:    alerts,
		logger:    logger,
		workers:   opts.Workers,
		interval:  opts.PollInterval,
		lease:     opts.ClaimLease,
		threshold: opts.FailureDeactivationThreshold,
		batch:     opts.ClaimBatch,
		inflight:  newSubscriptionLimiter(int64(opts.PerSubscriptionInflight)),
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Plain().WithField("workers", p.workers).Info("delivery pool starting")
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(p.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := p.ProcessDue(ctx); err != nil && ctx.Err() == nil {
						p.logger.WithContext(ctx).WithError(err).Error("delivery pass failed")
					}
				}
			}
		}()
	}
	wg.Wait()
	p.logger.Plain().Info("delivery pool stopped")
}

// ProcessDue performs one claim-and-deliver pass and returns how many tasks
// it handled.
func (p *Pool) ProcessDue(ctx context.Context) (int, error) {
	tasks, err := p.store.ClaimDue(ctx, p.batch, p.lease)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, t := range tasks {
		if !p.inflight.tryAcquire(t.SubscriptionID) {
			// Subscription already at its in-flight cap; put the task back so
			// another pass picks it up once a slot frees.
			if err := p.store.ReleaseClaim(ctx, t.AttemptID); err != nil {
				p.logger.WithContext(ctx).WithDelivery(t.AttemptID.String()).WithError(err).Error("release claim failed")
			}
			continue
		}
		p.deliver(ctx, t)
		p.inflight.release(t.SubscriptionID)
		handled++
	}
	return handled, nil
}

func (p *Pool) deliver(ctx context.Context, t Task) {
	ctx, span := tracing.StartSpan(ctx, "delivery.attempt",
		attribute.String("delivery_id", t.AttemptID.String()),
		attribute.String("event_id", t.EventID.String()),
		attribute.String("subscription_id", t.SubscriptionID.String()),
		attribute.String("event_type", string(t.EventType)),
		attribute.Int("attempt", t.Attempt),
		attribute.Int("sequence", t.Sequence),
	)
	defer span.End()

	now := time.Now().UTC()
	if err := p.store.MarkSent(ctx, t.AttemptID, now); err != nil {
		p.logger.WithContext(ctx).WithDelivery(t.AttemptID.String()).WithError(err).Error("mark sent failed")
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	res := p.sender.Send(ctx, t)
	span.SetAttributes(
		attribute.Int("http.status_code", res.Status),
		attribute.Int64("http.latency_ms", res.Latency.Milliseconds()),
	)
	if res.Err != nil {
		span.SetAttributes(attribute.String("http.error", res.Err.Error()))
	}

	if res.OK() {
		p.completeSuccess(ctx, t, res)
		return
	}
	p.completeFailure(ctx, t, res)
}

func (p *Pool) completeSuccess(ctx context.Context, t Task, res SendResult) {
	tracing.AddSpanEvent(ctx, "delivery.success")
	out := Outcome{
		AttemptID:       t.AttemptID,
		Status:          StatusSuccess,
		HTTPStatus:      res.Status,
		ResponseSnippet: res.Snippet,
		CompletedAt:     time.Now().UTC(),
	}
	// Ledger first: the task only counts as done once the outcome is durable.
	if err := p.store.CompleteAttempt(ctx, out); err != nil {
		tracing.SetSpanError(ctx, err)
		p.logger.WithContext(ctx).WithDelivery(t.AttemptID.String()).WithError(err).Error("persist success failed")
		return
	}
	if err := p.subs.ResetFailures(ctx, t.SubscriptionID); err != nil {
		p.logger.WithContext(ctx).WithSubscription(t.SubscriptionID.String()).WithError(err).Error("reset failure counter failed")
	}
	metrics.RecordDelivery(string(StatusSuccess), res.Latency)
	p.logger.WithContext(ctx).
		WithDelivery(t.AttemptID.String()).
		WithEvent(t.EventID.String()).
		WithSubscription(t.SubscriptionID.String()).
		WithField("attempt", t.Attempt).
		Info("delivered")
}

func (p *Pool) completeFailure(ctx context.Context, t Task, res SendResult) {
	class, reason := Classify(res.Err, res.Status)
	tracing.AddSpanEvent(ctx, "delivery.failed",
		attribute.String("failure_reason", reason),
		attribute.String("failure_class", string(class)))

	now := time.Now().UTC()
	if !p.sched.Exhausted(t.Attempt) {
		// Schedule the successor before closing the current row. If the insert
		// fails, this row stays pending and its lease expiry puts it back on the
		// queue: the chain can stall into a duplicate send, never end without a
		// terminal state. A re-claimed row finds its successor already present
		// and gets ErrDuplicate here, which is the same already-scheduled case.
		next := &Attempt{
			ID:             uuid.New(),
			EventID:        t.EventID,
			SubscriptionID: t.SubscriptionID,
			Sequence:       t.Sequence,
			Attempt:        t.Attempt + 1,
			Status:         StatusPending,
			Body:           t.Body,
			ScheduledAt:    p.sched.NextAttemptAt(now, t.Attempt),
			CreatedAt:      now,
		}
		if err := p.store.InsertAttempt(ctx, next); err != nil && !errors.Is(err, storage.ErrDuplicate) {
			tracing.SetSpanError(ctx, err)
			p.logger.WithContext(ctx).WithDelivery(t.AttemptID.String()).WithError(err).Error("schedule retry failed")
			return
		}
		out := Outcome{
			AttemptID:       t.AttemptID,
			Status:          StatusFailed,
			HTTPStatus:      res.Status,
			ResponseSnippet: res.Snippet,
			ErrorReason:     reason,
			CompletedAt:     now,
		}
		if err := p.store.CompleteAttempt(ctx, out); err != nil {
			tracing.SetSpanError(ctx, err)
			p.logger.WithContext(ctx).WithDelivery(t.AttemptID.String()).WithError(err).Error("persist failure failed")
			return
		}
		metrics.RecordRetry(reason)
		metrics.RecordDelivery(string(StatusFailed), res.Latency)
		p.logger.WithContext(ctx).
			WithDelivery(t.AttemptID.String()).
			WithSubscription(t.SubscriptionID.String()).
			WithFields(map[string]any{
				"attempt": t.Attempt,
				"reason":  reason,
				"class":   string(class),
				"next_at": next.ScheduledAt.Format(time.RFC3339),
			}).
			Info("delivery failed, retry scheduled")
		return
	}

	// Out of attempts: terminal exhaustion.
	out := Outcome{
		AttemptID:       t.AttemptID,
		Status:          StatusExhausted,
		HTTPStatus:      res.Status,
		ResponseSnippet: res.Snippet,
		ErrorReason:     reason,
		CompletedAt:     now,
	}
	if err := p.store.CompleteAttempt(ctx, out); err != nil {
		tracing.SetSpanError(ctx, err)
		p.logger.WithContext(ctx).WithDelivery(t.AttemptID.String()).WithError(err).Error("persist exhaustion failed")
		return
	}
	metrics.ExhaustedTotal.Inc()
	metrics.RecordDelivery(string(StatusExhausted), res.Latency)

	failures, deactivated, err := p.subs.RecordExhaustion(ctx, t.SubscriptionID, p.threshold)
	if err != nil {
		p.logger.WithContext(ctx).WithSubscription(t.SubscriptionID.String()).WithError(err).Error("record exhaustion failed")
	}

	dl := alert.NewDeadLetter(t.EventID, t.SubscriptionID, t.URL, t.Attempt, res.Status, errString(res.Err), "max attempts reached")
	if err := p.alerts.PublishDeadLetter(ctx, dl); err != nil {
		p.logger.WithContext(ctx).WithDelivery(t.AttemptID.String()).WithError(err).Error("dead letter publish failed")
	}
	p.logger.WithContext(ctx).
		WithDelivery(t.AttemptID.String()).
		WithEvent(t.EventID.String()).
		WithSubscription(t.SubscriptionID.String()).
		WithFields(map[string]any{"attempts": t.Attempt, "reason": reason}).
		Warn("delivery exhausted")

	if deactivated {
		metrics.DeactivationsTotal.Inc()
		if err := p.alerts.PublishDeactivation(ctx, alert.NewDeactivation(t.SubscriptionID, t.URL, failures)); err != nil {
			p.logger.WithContext(ctx).WithSubscription(t.SubscriptionID.String()).WithError(err).Error("deactivation alert publish failed")
		}
		p.logger.WithContext(ctx).
			WithSubscription(t.SubscriptionID.String()).
			WithField("consecutive_failures", failures).
			Warn("subscription auto-deactivated")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// subscriptionLimiter caps concurrent in-flight requests per subscription so
// one slow endpoint cannot occupy the whole pool.
type subscriptionLimiter struct {
	mu   sync.Mutex
	cap  int64
	sems map[uuid.UUID]*semaphore.Weighted
}

func newSubscriptionLimiter(cap int64) *subscriptionLimiter {
	return &subscriptionLimiter{cap: cap, sems: make(map[uuid.UUID]*semaphore.Weighted)}
}

func (l *subscriptionLimiter) sem(id uuid.UUID) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[id]
	if !ok {
		s = semaphore.NewWeighted(l.cap)
		l.sems[id] = s
	}
	return s
}

func (l *subscriptionLimiter) tryAcquire(id uuid.UUID) bool {
	return l.sem(id).TryAcquire(1)
}

func (l *subscriptionLimiter) release(id uuid.UUID) {
	l.sem(id).Release(1)
}

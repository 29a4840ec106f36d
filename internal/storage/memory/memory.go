// Package memory is a mutex-guarded implementation of the delivery core's
// stores. It backs tests and the STORE_DRIVER=memory development mode, and
// mirrors the Postgres store's semantics: unique attempt chains, lease-based
// claiming, active-only pickup.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/delivery"
	"github.com/eventrhq/eventr/internal/event"
	"github.com/eventrhq/eventr/internal/storage"
	"github.com/eventrhq/eventr/internal/subscription"
)

type attemptKey struct {
	eventID        uuid.UUID
	subscriptionID uuid.UUID
	sequence       int
	attempt        int
}

type attemptRow struct {
	delivery.Attempt
	claimedAt      time.Time
	claimExpiresAt time.Time
}

// Store holds everything behind one mutex. Claim serialization through the
// lock is the in-memory equivalent of row locks with skip-locked semantics.
type Store struct {
	mu sync.Mutex

	events     map[uuid.UUID]*event.DomainEvent
	eventOrder []uuid.UUID

	subs map[uuid.UUID]*subscription.Subscription

	attempts map[uuid.UUID]*attemptRow
	chains   map[attemptKey]uuid.UUID

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		events:   make(map[uuid.UUID]*event.DomainEvent),
		subs:     make(map[uuid.UUID]*subscription.Subscription),
		attempts: make(map[uuid.UUID]*attemptRow),
		chains:   make(map[attemptKey]uuid.UUID),
		Now:      time.Now,
	}
}

// --- events ---

func (s *Store) InsertEvent(_ context.Context, ev *event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return storage.ErrDuplicate
	}
	cp := *ev
	s.events[ev.ID] = &cp
	s.eventOrder = append(s.eventOrder, ev.ID)
	return nil
}

func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (*event.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *Store) UnprocessedEvents(_ context.Context, limit int) ([]event.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.DomainEvent
	for _, id := range s.eventOrder {
		ev := s.events[id]
		if ev.Processed {
			continue
		}
		out = append(out, *ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkProcessed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return storage.ErrNotFound
	}
	ev.Processed = true
	return nil
}

// --- subscriptions ---

func (s *Store) InsertSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; ok {
		return storage.ErrDuplicate
	}
	cp := *sub
	cp.EventTypes = append([]event.Type(nil), sub.EventTypes...)
	s.subs[sub.ID] = &cp
	return nil
}

func (s *Store) GetSubscription(_ context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sub
	cp.EventTypes = append([]event.Type(nil), sub.EventTypes...)
	return &cp, nil
}

func (s *Store) ListSubscriptions(_ context.Context) ([]subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscription.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		cp := *sub
		cp.EventTypes = append([]event.Type(nil), sub.EventTypes...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *sub
	cp.EventTypes = append([]event.Type(nil), sub.EventTypes...)
	s.subs[sub.ID] = &cp
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.subs, id)
	for aid, row := range s.attempts {
		if row.SubscriptionID != id {
			continue
		}
		delete(s.chains, attemptKey{row.EventID, row.SubscriptionID, row.Sequence, row.Attempt.Attempt})
		delete(s.attempts, aid)
	}
	return nil
}

func (s *Store) ActiveSubscriptionsFor(_ context.Context, t event.Type) ([]subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []subscription.Subscription
	for _, sub := range s.subs {
		if !sub.Active || !sub.Matches(t) {
			continue
		}
		cp := *sub
		cp.EventTypes = append([]event.Type(nil), sub.EventTypes...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ResetFailures(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.ConsecutiveFailures = 0
	return nil
}

func (s *Store) RecordExhaustion(_ context.Context, id uuid.UUID, threshold int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return 0, false, storage.ErrNotFound
	}
	sub.ConsecutiveFailures++
	deactivated := false
	if sub.ConsecutiveFailures >= threshold && sub.Active {
		sub.Active = false
		deactivated = true
	}
	return sub.ConsecutiveFailures, deactivated, nil
}

// --- deliveries ---

func (s *Store) InsertFirstAttempt(_ context.Context, a *delivery.Attempt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{a.EventID, a.SubscriptionID, a.Sequence, a.Attempt}
	if _, ok := s.chains[key]; ok {
		return false, nil
	}
	s.insertLocked(a, key)
	return true, nil
}

func (s *Store) InsertAttempt(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{a.EventID, a.SubscriptionID, a.Sequence, a.Attempt}
	if _, ok := s.chains[key]; ok {
		return storage.ErrDuplicate
	}
	s.insertLocked(a, key)
	return nil
}

func (s *Store) insertLocked(a *delivery.Attempt, key attemptKey) {
	row := &attemptRow{Attempt: *a}
	row.Body = append([]byte(nil), a.Body...)
	s.attempts[a.ID] = row
	s.chains[key] = a.ID
}

func (s *Store) NextSequence(_ context.Context, eventID, subscriptionID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for key := range s.chains {
		if key.eventID == eventID && key.subscriptionID == subscriptionID && key.sequence > max {
			max = key.sequence
		}
	}
	return max + 1, nil
}

func (s *Store) ClaimDue(_ context.Context, limit int, lease time.Duration) ([]delivery.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()

	var due []*attemptRow
	for _, row := range s.attempts {
		if row.Status != delivery.StatusPending {
			continue
		}
		if row.ScheduledAt.After(now) {
			continue
		}
		if !row.claimExpiresAt.IsZero() && row.claimExpiresAt.After(now) {
			continue
		}
		sub, ok := s.subs[row.SubscriptionID]
		if !ok || !sub.Active {
			continue
		}
		due = append(due, row)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]delivery.Task, 0, len(due))
	for _, row := range due {
		row.claimedAt = now
		row.claimExpiresAt = now.Add(lease)
		sub := s.subs[row.SubscriptionID]
		ev := s.events[row.EventID]
		t := delivery.Task{
			AttemptID:      row.ID,
			EventID:        row.EventID,
			SubscriptionID: row.SubscriptionID,
			URL:            sub.URL,
			Secret:         sub.Secret,
			Body:           append([]byte(nil), row.Body...),
			Sequence:       row.Sequence,
			Attempt:        row.Attempt.Attempt,
		}
		if ev != nil {
			t.EventType = ev.Type
			t.OccurredAt = ev.OccurredAt
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) ReleaseClaim(_ context.Context, attemptID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.attempts[attemptID]
	if !ok {
		return storage.ErrNotFound
	}
	if row.Status == delivery.StatusPending {
		row.claimedAt = time.Time{}
		row.claimExpiresAt = time.Time{}
	}
	return nil
}

func (s *Store) MarkSent(_ context.Context, attemptID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.attempts[attemptID]
	if !ok {
		return storage.ErrNotFound
	}
	sent := at
	row.SentAt = &sent
	return nil
}

func (s *Store) CompleteAttempt(_ context.Context, out delivery.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.attempts[out.AttemptID]
	if !ok {
		return storage.ErrNotFound
	}
	if row.Status != delivery.StatusPending {
		return storage.ErrNotFound
	}
	row.Status = out.Status
	row.HTTPStatus = out.HTTPStatus
	row.ResponseSnippet = out.ResponseSnippet
	row.ErrorReason = out.ErrorReason
	completed := out.CompletedAt
	row.CompletedAt = &completed
	return nil
}

func (s *Store) History(_ context.Context, subscriptionID uuid.UUID, limit, offset int) ([]delivery.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []delivery.Attempt
	for _, row := range s.attempts {
		if row.SubscriptionID == subscriptionID {
			all = append(all, row.Attempt)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].Attempt > all[j].Attempt
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) SequenceStatus(_ context.Context, eventID, subscriptionID uuid.UUID) ([]delivery.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.Attempt
	for _, row := range s.attempts {
		if row.EventID == eventID && row.SubscriptionID == subscriptionID {
			out = append(out, row.Attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

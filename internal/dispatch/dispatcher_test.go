package dispatch_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/delivery"
	"github.com/eventrhq/eventr/internal/dispatch"
	"github.com/eventrhq/eventr/internal/event"
	"github.com/eventrhq/eventr/internal/logging"
	"github.com/eventrhq/eventr/internal/signature"
	"github.com/eventrhq/eventr/internal/storage/memory"
	"github.com/eventrhq/eventr/internal/subscription"
)

func setup(t *testing.T) (*dispatch.Dispatcher, *subscription.Registry, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	reg := subscription.NewRegistry(store, false)
	return dispatch.NewDispatcher(reg, store, logging.New("test")), reg, store
}

func mustEvent(t *testing.T) *event.DomainEvent {
	t.Helper()
	ev, err := event.New(event.TypeRegistrationCreated, "reg_1", event.RegistrationCreated{
		RegistrationID: "reg_1",
		EventID:        "evt_1",
		UserID:         "usr_1",
	})
	if err != nil {
		t.Fatalf("event.New() error = %v", err)
	}
	return ev
}

func TestDispatchFanout(t *testing.T) {
	ctx := context.Background()
	d, reg, store := setup(t)

	matching, err := reg.Create(ctx, "https://a.example.com", "", []event.Type{event.TypeRegistrationCreated})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wildcard, err := reg.Create(ctx, "https://b.example.com", "", []event.Type{event.Wildcard})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := reg.Create(ctx, "https://c.example.com", "", []event.Type{event.TypeUserRegistered}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ev := mustEvent(t)
	fanout, err := d.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if fanout != 2 {
		t.Fatalf("Dispatch() fanout = %d, want 2", fanout)
	}

	for _, id := range []struct {
		name string
		sub  *subscription.Subscription
	}{
		{"matching", matching},
		{"wildcard", wildcard},
	} {
		attempts, err := store.SequenceStatus(ctx, ev.ID, id.sub.ID)
		if err != nil {
			t.Fatalf("SequenceStatus(%s) error = %v", id.name, err)
		}
		if len(attempts) != 1 {
			t.Fatalf("attempts for %s subscription = %d, want 1", id.name, len(attempts))
		}
		a := attempts[0]
		if a.Sequence != 1 || a.Attempt != 1 || a.Status != delivery.StatusPending {
			t.Errorf("%s first attempt = (seq %d, attempt %d, %q), want (1, 1, pending)", id.name, a.Sequence, a.Attempt, a.Status)
		}
	}
}

func TestDispatchIdempotent(t *testing.T) {
	ctx := context.Background()
	d, reg, store := setup(t)

	sub, err := reg.Create(ctx, "https://a.example.com", "", []event.Type{event.TypeRegistrationCreated})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ev := mustEvent(t)
	if _, err := d.Dispatch(ctx, ev); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	// A poller crash between dispatch and mark-processed replays the event.
	fanout, err := d.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if fanout != 0 {
		t.Errorf("second Dispatch() fanout = %d, want 0", fanout)
	}

	attempts, err := store.SequenceStatus(ctx, ev.ID, sub.ID)
	if err != nil {
		t.Fatalf("SequenceStatus() error = %v", err)
	}
	if len(attempts) != 1 {
		t.Errorf("attempts after double dispatch = %d, want 1", len(attempts))
	}
}

func TestDispatchNoMatches(t *testing.T) {
	d, _, _ := setup(t)
	fanout, err := d.Dispatch(context.Background(), mustEvent(t))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if fanout != 0 {
		t.Errorf("Dispatch() fanout = %d, want 0", fanout)
	}
}

func TestDispatchBodySnapshotIsSignable(t *testing.T) {
	ctx := context.Background()
	d, reg, store := setup(t)
	sub, err := reg.Create(ctx, "https://a.example.com", "snapshot-secret-16", []event.Type{event.Wildcard})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ev := mustEvent(t)
	if _, err := d.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	tasks, err := store.ClaimDue(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ClaimDue() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("ClaimDue() returned %d tasks, want 1", len(tasks))
	}
	wire, err := ev.WireBody()
	if err != nil {
		t.Fatalf("WireBody() error = %v", err)
	}
	if string(tasks[0].Body) != string(wire) {
		t.Errorf("task body %q differs from wire body %q", tasks[0].Body, wire)
	}
	header := signature.Header(sub.Secret, tasks[0].Body)
	if !signature.Verify(sub.Secret, wire, header) {
		t.Error("snapshot signature does not verify against the wire body")
	}
}

func TestRedeliverOpensNewSequence(t *testing.T) {
	ctx := context.Background()
	d, reg, store := setup(t)
	sub, err := reg.Create(ctx, "https://a.example.com", "", []event.Type{event.TypeRegistrationCreated})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ev := mustEvent(t)
	if _, err := d.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	first, err := d.Redeliver(ctx, ev, sub.ID)
	if err != nil {
		t.Fatalf("Redeliver() error = %v", err)
	}
	if first.Sequence != 2 || first.Attempt != 1 {
		t.Errorf("redelivery = (seq %d, attempt %d), want (2, 1)", first.Sequence, first.Attempt)
	}
	if first.Status != delivery.StatusPending {
		t.Errorf("redelivery status = %q, want pending", first.Status)
	}

	second, err := d.Redeliver(ctx, ev, sub.ID)
	if err != nil {
		t.Fatalf("second Redeliver() error = %v", err)
	}
	if second.Sequence != 3 {
		t.Errorf("second redelivery sequence = %d, want 3", second.Sequence)
	}

	attempts, err := store.SequenceStatus(ctx, ev.ID, sub.ID)
	if err != nil {
		t.Fatalf("SequenceStatus() error = %v", err)
	}
	if len(attempts) != 3 {
		t.Errorf("attempts across sequences = %d, want 3", len(attempts))
	}
}

// staleSequenceStore hands out an already-taken sequence staleN times,
// simulating a concurrent redeliver winning the slot between NextSequence
// and the insert.
type staleSequenceStore struct {
	*memory.Store
	staleN int
}

func (s *staleSequenceStore) NextSequence(ctx context.Context, eventID, subscriptionID uuid.UUID) (int, error) {
	seq, err := s.Store.NextSequence(ctx, eventID, subscriptionID)
	if err == nil && s.staleN > 0 && seq > 1 {
		s.staleN--
		return seq - 1, nil
	}
	return seq, err
}

func TestRedeliverRetriesTakenSequence(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	reg := subscription.NewRegistry(store, false)
	stale := &staleSequenceStore{Store: store, staleN: 1}
	d := dispatch.NewDispatcher(reg, stale, logging.New("test"))

	sub, err := reg.Create(ctx, "https://a.example.com", "", []event.Type{event.TypeRegistrationCreated})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ev := mustEvent(t)
	if _, err := d.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// First NextSequence answers 1, which sequence 1 already owns; the
	// redeliver must detect the lost insert and land on sequence 2.
	a, err := d.Redeliver(ctx, ev, sub.ID)
	if err != nil {
		t.Fatalf("Redeliver() error = %v", err)
	}
	if a.Sequence != 2 {
		t.Errorf("redelivery sequence = %d, want 2 after losing the first slot", a.Sequence)
	}

	attempts, err := store.SequenceStatus(ctx, ev.ID, sub.ID)
	if err != nil {
		t.Fatalf("SequenceStatus() error = %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("attempts = %d, want 2 (no phantom row for the lost slot)", len(attempts))
	}
}

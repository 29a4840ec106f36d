package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewStampsIdentity(t *testing.T) {
	ev, err := New(TypeUserRegistered, "usr_1", UserRegistered{UserID: "usr_1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if ev.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("New() did not assign an id")
	}
	if ev.OccurredAt.IsZero() {
		t.Error("New() did not stamp occurred_at")
	}
	if ev.Processed {
		t.Error("new event already marked processed")
	}
}

func TestNewRejectsMismatchedPayload(t *testing.T) {
	if _, err := New(TypeEventPublished, "x", UserRegistered{UserID: "usr_1"}); err == nil {
		t.Error("New() accepted a payload of the wrong variant")
	}
}

func TestWireBodyShape(t *testing.T) {
	ev, err := New(TypeEventPublished, "evt_1", EventPublished{
		EventID:  "evt_1",
		Title:    "All Hands",
		StartsAt: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	body, err := ev.WireBody()
	if err != nil {
		t.Fatalf("WireBody() error = %v", err)
	}

	var got struct {
		EventID    string          `json:"eventId"`
		EventType  string          `json:"eventType"`
		OccurredAt string          `json:"occurredAt"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("WireBody() produced invalid JSON: %v", err)
	}
	if got.EventID != ev.ID.String() {
		t.Errorf("eventId = %q, want %q", got.EventID, ev.ID)
	}
	if got.EventType != string(TypeEventPublished) {
		t.Errorf("eventType = %q, want %q", got.EventType, TypeEventPublished)
	}
	if _, err := time.Parse(time.RFC3339Nano, got.OccurredAt); err != nil {
		t.Errorf("occurredAt %q is not RFC3339: %v", got.OccurredAt, err)
	}
	var payload EventPublished
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatalf("data field invalid: %v", err)
	}
	if payload.Title != "All Hands" {
		t.Errorf("data.title = %q, want %q", payload.Title, "All Hands")
	}
}

func TestWireBodyStable(t *testing.T) {
	ev, err := New(TypeUserRegistered, "usr_1", UserRegistered{UserID: "usr_1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a, err := ev.WireBody()
	if err != nil {
		t.Fatalf("WireBody() error = %v", err)
	}
	b, err := ev.WireBody()
	if err != nil {
		t.Fatalf("WireBody() error = %v", err)
	}
	if string(a) != string(b) {
		t.Error("WireBody() not byte-stable across calls")
	}
}

func TestWireBodyNullData(t *testing.T) {
	ev := &DomainEvent{Type: TypeUserRegistered, OccurredAt: time.Now()}
	body, err := ev.WireBody()
	if err != nil {
		t.Fatalf("WireBody() error = %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("WireBody() invalid JSON: %v", err)
	}
	if string(got["data"]) != "null" {
		t.Errorf("data = %s, want null for empty payload", got["data"])
	}
}

func TestKnownType(t *testing.T) {
	for _, typ := range Types() {
		if !KnownType(typ) {
			t.Errorf("KnownType(%q) = false for registered type", typ)
		}
	}
	if KnownType("INVOICE_PAID") {
		t.Error("KnownType() accepted an unregistered type")
	}
	if KnownType(Wildcard) {
		t.Error("KnownType() accepted the wildcard, which is a filter not a type")
	}
}

func TestDecodePayload(t *testing.T) {
	raw := []byte(`{"registration_id":"reg_1","event_id":"evt_1","user_id":"usr_1","gate":"A3","checked_in_at":"2026-09-01T09:30:00Z"}`)
	p, err := DecodePayload(TypeAttendeeCheckedIn, raw)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	checkin, ok := p.(*AttendeeCheckedIn)
	if !ok {
		t.Fatalf("DecodePayload() returned %T, want *AttendeeCheckedIn", p)
	}
	if checkin.Gate != "A3" {
		t.Errorf("gate = %q, want A3", checkin.Gate)
	}
	if checkin.EventType() != TypeAttendeeCheckedIn {
		t.Errorf("EventType() = %q, want %q", checkin.EventType(), TypeAttendeeCheckedIn)
	}

	if _, err := DecodePayload("INVOICE_PAID", raw); err == nil {
		t.Error("DecodePayload() accepted unknown type")
	}
	if _, err := DecodePayload(TypeAttendeeCheckedIn, []byte(`not json`)); err == nil {
		t.Error("DecodePayload() accepted invalid JSON")
	}
}

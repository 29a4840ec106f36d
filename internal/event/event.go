package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of business occurrence an event records.
type Type string

const (
	TypeUserRegistered        Type = "USER_REGISTERED"
	TypeEventPublished        Type = "EVENT_PUBLISHED"
	TypeRegistrationCreated   Type = "REGISTRATION_CREATED"
	TypeRegistrationCancelled Type = "REGISTRATION_CANCELLED"
	TypeAttendeeCheckedIn     Type = "ATTENDEE_CHECKED_IN"

	// Wildcard matches every event type in a subscription filter.
	Wildcard = "*"
)

// DomainEvent is an immutable record of a business occurrence. Rows are never
// mutated after insert; the poller only flips the processed flag.
type DomainEvent struct {
	ID          uuid.UUID       `json:"id"`
	Type        Type            `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Processed   bool            `json:"processed"`
}

// New builds a DomainEvent from a typed payload, stamping id and occurred_at.
func New(t Type, aggregateID string, payload Payload) (*DomainEvent, error) {
	if payload != nil && payload.EventType() != t {
		return nil, fmt.Errorf("payload type %s does not match event type %s", payload.EventType(), t)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &DomainEvent{
		ID:          uuid.New(),
		Type:        t,
		AggregateID: aggregateID,
		Payload:     raw,
		OccurredAt:  time.Now().UTC(),
	}, nil
}

// wireBody is the JSON document POSTed to subscribers.
type wireBody struct {
	EventID    string          `json:"eventId"`
	EventType  Type            `json:"eventType"`
	OccurredAt string          `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// WireBody serializes the outbound webhook payload. The returned bytes are
// the exact bytes that get signed and sent; callers must not re-serialize.
func (e *DomainEvent) WireBody() ([]byte, error) {
	data := e.Payload
	if len(data) == 0 {
		data = json.RawMessage(`null`)
	}
	return json.Marshal(wireBody{
		EventID:    e.ID.String(),
		EventType:  e.Type,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		Data:       data,
	})
}

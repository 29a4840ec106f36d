package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is one variant of the tagged union carried by a DomainEvent.
// Each event type has exactly one payload shape, registered below.
type Payload interface {
	EventType() Type
}

type UserRegistered struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (UserRegistered) EventType() Type { return TypeUserRegistered }

type EventPublished struct {
	EventID  string    `json:"event_id"`
	Title    string    `json:"title"`
	Venue    string    `json:"venue,omitempty"`
	StartsAt time.Time `json:"starts_at"`
}

func (EventPublished) EventType() Type { return TypeEventPublished }

type RegistrationCreated struct {
	RegistrationID string `json:"registration_id"`
	EventID        string `json:"event_id"`
	UserID         string `json:"user_id"`
	TicketType     string `json:"ticket_type,omitempty"`
}

func (RegistrationCreated) EventType() Type { return TypeRegistrationCreated }

type RegistrationCancelled struct {
	RegistrationID string `json:"registration_id"`
	EventID        string `json:"event_id"`
	UserID         string `json:"user_id"`
	Reason         string `json:"reason,omitempty"`
}

func (RegistrationCancelled) EventType() Type { return TypeRegistrationCancelled }

type AttendeeCheckedIn struct {
	RegistrationID string    `json:"registration_id"`
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id"`
	Gate           string    `json:"gate,omitempty"`
	CheckedInAt    time.Time `json:"checked_in_at"`
}

func (AttendeeCheckedIn) EventType() Type { return TypeAttendeeCheckedIn }

// registry maps each event type to a constructor for its payload variant.
var registry = map[Type]func() Payload{
	TypeUserRegistered:        func() Payload { return &UserRegistered{} },
	TypeEventPublished:        func() Payload { return &EventPublished{} },
	TypeRegistrationCreated:   func() Payload { return &RegistrationCreated{} },
	TypeRegistrationCancelled: func() Payload { return &RegistrationCancelled{} },
	TypeAttendeeCheckedIn:     func() Payload { return &AttendeeCheckedIn{} },
}

// KnownType reports whether t has a registered payload schema.
func KnownType(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Types returns all registered event types.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

// DecodePayload parses raw JSON into the typed variant for t.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	ctor, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	p := ctor()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/event"
)

// Status of one delivery attempt. A (event, subscription, sequence) chain is
// monotonically increasing in attempt number and ends in exactly one terminal
// state: success or exhausted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether no further automatic work follows this status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusExhausted
}

// Attempt is one ledger row: a single try at delivering one event to one
// subscription. Rows are append-only; a row is only ever updated from pending
// to its outcome.
type Attempt struct {
	ID              uuid.UUID  `json:"id"`
	EventID         uuid.UUID  `json:"event_id"`
	SubscriptionID  uuid.UUID  `json:"subscription_id"`
	Sequence        int        `json:"sequence"`
	Attempt         int        `json:"attempt"`
	Status          Status     `json:"status"`
	Body            []byte     `json:"-"`
	HTTPStatus      int        `json:"http_status,omitempty"`
	ResponseSnippet string     `json:"response_snippet,omitempty"`
	ErrorReason     string     `json:"error_reason,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Task is a claimed pending attempt joined with the subscription fields the
// worker needs. The body is the snapshot captured at dispatch time; every
// attempt signs and sends those exact bytes.
type Task struct {
	AttemptID      uuid.UUID
	EventID        uuid.UUID
	SubscriptionID uuid.UUID
	EventType      event.Type
	URL            string
	Secret         string
	Body           []byte
	Sequence       int
	Attempt        int
	OccurredAt     time.Time
}

// Outcome is the persisted result of a finished attempt.
type Outcome struct {
	AttemptID       uuid.UUID
	Status          Status
	HTTPStatus      int
	ResponseSnippet string
	ErrorReason     string
	CompletedAt     time.Time
}

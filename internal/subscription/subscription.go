package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/event"
)

// Subscription is a registered webhook target: a URL, a signing secret and an
// event-type filter. The failure counter and active flag are mutated by the
// delivery worker pool; everything else only by admin actions.
type Subscription struct {
	ID                  uuid.UUID    `json:"id"`
	URL                 string       `json:"url"`
	Secret              string       `json:"-"`
	EventTypes          []event.Type `json:"event_types"`
	Active              bool         `json:"active"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Matches reports whether the subscription's filter covers t.
func (s *Subscription) Matches(t event.Type) bool {
	for _, et := range s.EventTypes {
		if et == t || string(et) == event.Wildcard {
			return true
		}
	}
	return false
}

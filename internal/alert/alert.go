// Package alert publishes operational events the delivery core emits for
// humans: exhausted deliveries and automatic subscription deactivations.
// These never feed back into the delivery pipeline.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeDeadLetter  = "delivery.exhausted"
	TypeDeactivated = "subscription.deactivated"
)

// DeadLetter is the envelope published when a delivery chain exhausts its
// attempts. It carries enough of a snapshot to triage without DB access.
type DeadLetter struct {
	Type           string    `json:"type"`
	Version        string    `json:"version"`
	At             string    `json:"at"` // RFC3339
	EventID        uuid.UUID `json:"event_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	URL            string    `json:"url"`
	Attempts       int       `json:"attempts"`
	HTTPStatus     int       `json:"http_status,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	Reason         string    `json:"reason"`
}

// NewDeadLetter stamps a v1 dead-letter envelope.
func NewDeadLetter(eventID, subID uuid.UUID, url string, attempts, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:           TypeDeadLetter,
		Version:        "v1",
		At:             time.Now().UTC().Format(time.RFC3339Nano),
		EventID:        eventID,
		SubscriptionID: subID,
		URL:            url,
		Attempts:       attempts,
		HTTPStatus:     httpStatus,
		LastError:      lastErr,
		Reason:         reason,
	}
}

// Deactivation is published when the consecutive-failure counter crosses the
// deactivation threshold and the subscription is switched off.
type Deactivation struct {
	Type           string    `json:"type"`
	Version        string    `json:"version"`
	At             string    `json:"at"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	URL            string    `json:"url"`
	Failures       int       `json:"consecutive_failures"`
}

// NewDeactivation stamps a v1 deactivation alert.
func NewDeactivation(subID uuid.UUID, url string, failures int) Deactivation {
	return Deactivation{
		Type:           TypeDeactivated,
		Version:        "v1",
		At:             time.Now().UTC().Format(time.RFC3339Nano),
		SubscriptionID: subID,
		URL:            url,
		Failures:       failures,
	}
}

// Publisher delivers operational alerts. Implementations must be safe for
// concurrent use by the worker pool.
type Publisher interface {
	PublishDeadLetter(ctx context.Context, dl DeadLetter) error
	PublishDeactivation(ctx context.Context, d Deactivation) error
}

// Nop discards all alerts. Used when no broker is configured and in tests.
type Nop struct{}

func (Nop) PublishDeadLetter(context.Context, DeadLetter) error     { return nil }
func (Nop) PublishDeactivation(context.Context, Deactivation) error { return nil }

package subscription

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/event"
)

const minSecretLength = 16

// Validation failures are rejected synchronously at the admin API; they never
// reach the delivery pipeline.
var (
	ErrInvalidURL      = errors.New("subscription: invalid url")
	ErrInsecureURL     = errors.New("subscription: https is required")
	ErrWeakSecret      = errors.New("subscription: secret shorter than minimum length")
	ErrNoEventTypes    = errors.New("subscription: at least one event type is required")
	ErrUnknownType     = errors.New("subscription: unknown event type")
	ErrNothingToUpdate = errors.New("subscription: empty patch")
)

// Store is the durable subscription state the registry operates on.
type Store interface {
	InsertSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	ActiveSubscriptionsFor(ctx context.Context, t event.Type) ([]Subscription, error)
}

// Registry validates and manages webhook subscriptions. It is an explicit
// dependency of the API and dispatcher; there is no package-level instance.
type Registry struct {
	store        Store
	requireHTTPS bool
}

// NewRegistry builds a registry. requireHTTPS should be true everywhere
// outside development.
func NewRegistry(store Store, requireHTTPS bool) *Registry {
	return &Registry{store: store, requireHTTPS: requireHTTPS}
}

// Patch carries the mutable subscription fields for an update. Nil fields are
// left untouched.
type Patch struct {
	URL        *string
	Secret     *string
	EventTypes []event.Type
	Active     *bool
}

// Create registers a new subscription. An empty secret is replaced with a
// generated 256-bit one; the caller sees it exactly once in the response.
func (r *Registry) Create(ctx context.Context, rawURL, secret string, types []event.Type) (*Subscription, error) {
	if err := r.validateURL(rawURL); err != nil {
		return nil, err
	}
	if err := validateTypes(types); err != nil {
		return nil, err
	}
	if secret == "" {
		var err error
		secret, err = generateSecret(32)
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	} else if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:         uuid.New(),
		URL:        rawURL,
		Secret:     secret,
		EventTypes: types,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.InsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Update applies a patch: url edits, secret rotation, filter changes and
// active toggling. Already-enqueued delivery tasks are unaffected.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Subscription, error) {
	if patch.URL == nil && patch.Secret == nil && patch.EventTypes == nil && patch.Active == nil {
		return nil, ErrNothingToUpdate
	}
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.URL != nil {
		if err := r.validateURL(*patch.URL); err != nil {
			return nil, err
		}
		sub.URL = *patch.URL
	}
	if patch.Secret != nil {
		if len(*patch.Secret) < minSecretLength {
			return nil, ErrWeakSecret
		}
		sub.Secret = *patch.Secret
	}
	if patch.EventTypes != nil {
		if err := validateTypes(patch.EventTypes); err != nil {
			return nil, err
		}
		sub.EventTypes = patch.EventTypes
	}
	if patch.Active != nil {
		sub.Active = *patch.Active
		if sub.Active {
			// Re-activation wipes the failure streak.
			sub.ConsecutiveFailures = 0
		}
	}
	sub.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get returns one subscription by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return r.store.GetSubscription(ctx, id)
}

// List returns all subscriptions.
func (r *Registry) List(ctx context.Context) ([]Subscription, error) {
	return r.store.ListSubscriptions(ctx)
}

// Delete removes a subscription. In-flight deliveries are not aborted;
// pending tasks for it are skipped at pickup.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.DeleteSubscription(ctx, id)
}

// SubscriptionsFor returns active subscriptions whose filter matches t,
// including wildcard filters.
func (r *Registry) SubscriptionsFor(ctx context.Context, t event.Type) ([]Subscription, error) {
	return r.store.ActiveSubscriptionsFor(ctx, t)
}

func (r *Registry) validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	switch u.Scheme {
	case "https":
	case "http":
		if r.requireHTTPS {
			return ErrInsecureURL
		}
	default:
		return ErrInvalidURL
	}
	return nil
}

func validateTypes(types []event.Type) error {
	if len(types) == 0 {
		return ErrNoEventTypes
	}
	for _, t := range types {
		if string(t) == event.Wildcard {
			continue
		}
		if !event.KnownType(t) {
			return fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
	}
	return nil
}

func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

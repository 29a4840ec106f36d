// Package api is the admin REST surface: webhook subscription CRUD, the
// delivery ledger views, manual redelivery and a development-only event
// ingestion endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventrhq/eventr/internal/delivery"
	"github.com/eventrhq/eventr/internal/dispatch"
	"github.com/eventrhq/eventr/internal/event"
	"github.com/eventrhq/eventr/internal/logging"
	"github.com/eventrhq/eventr/internal/storage"
	"github.com/eventrhq/eventr/internal/subscription"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// EventStore is the slice of storage the API reads and writes events through.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *event.DomainEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*event.DomainEvent, error)
}

// Ledger exposes the read side of the delivery ledger.
type Ledger interface {
	History(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]delivery.Attempt, error)
	SequenceStatus(ctx context.Context, eventID, subscriptionID uuid.UUID) ([]delivery.Attempt, error)
}

// Handlers wires the registry, dispatcher and ledger into HTTP.
type Handlers struct {
	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	events     EventStore
	ledger     Ledger
	logger     *logging.Logger
	devIngest  bool
}

func NewHandlers(reg *subscription.Registry, disp *dispatch.Dispatcher, events EventStore, ledger Ledger, logger *logging.Logger, devIngest bool) *Handlers {
	return &Handlers{
		registry:   reg,
		dispatcher: disp,
		events:     events,
		ledger:     ledger,
		logger:     logger,
		devIngest:  devIngest,
	}
}

type createWebhookRequest struct {
	URL        string       `json:"url"`
	Secret     string       `json:"secret,omitempty"`
	EventTypes []event.Type `json:"event_types"`
}

// webhookResponse carries the secret only on creation; reads never echo it.
type webhookResponse struct {
	subscription.Subscription
	Secret string `json:"secret,omitempty"`
}

// CreateWebhook handles POST /webhooks.
func (h *Handlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body", "bad_request")
		return
	}
	sub, err := h.registry.Create(r.Context(), req.URL, req.Secret, req.EventTypes)
	if err != nil {
		h.registryError(w, err)
		return
	}
	h.logger.WithContext(r.Context()).
		WithSubscription(sub.ID.String()).
		WithField("url", sub.URL).
		Info("webhook created")
	writeJSON(w, http.StatusCreated, webhookResponse{Subscription: *sub, Secret: sub.Secret})
}

// ListWebhooks handles GET /webhooks.
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list subscriptions failed", "internal")
		return
	}
	if subs == nil {
		subs = []subscription.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetWebhook handles GET /webhooks/{id}.
func (h *Handlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	sub, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type patchWebhookRequest struct {
	URL        *string       `json:"url,omitempty"`
	Secret     *string       `json:"secret,omitempty"`
	EventTypes *[]event.Type `json:"event_types,omitempty"`
	Active     *bool         `json:"active,omitempty"`
}

// PatchWebhook handles PATCH /webhooks/{id}.
func (h *Handlers) PatchWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req patchWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body", "bad_request")
		return
	}
	patch := subscription.Patch{
		URL:    req.URL,
		Secret: req.Secret,
		Active: req.Active,
	}
	if req.EventTypes != nil {
		patch.EventTypes = *req.EventTypes
	}
	sub, err := h.registry.Update(r.Context(), id, patch)
	if err != nil {
		h.registryError(w, err)
		return
	}
	h.logger.WithContext(r.Context()).
		WithSubscription(sub.ID.String()).
		Info("webhook updated")
	writeJSON(w, http.StatusOK, sub)
}

// DeleteWebhook handles DELETE /webhooks/{id}.
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.registryError(w, err)
		return
	}
	h.logger.WithContext(r.Context()).
		WithSubscription(id.String()).
		Info("webhook deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /webhooks/{id}/deliveries.
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		h.registryError(w, err)
		return
	}
	limit, offset := pagination(r)
	attempts, err := h.ledger.History(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delivery history failed", "internal")
		return
	}
	if attempts == nil {
		attempts = []delivery.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// GetDeliveryStatus handles GET /webhooks/{id}/deliveries/{eventID}: every
// attempt for the (event, subscription) pair across all sequences.
func (h *Handlers) GetDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	attempts, err := h.ledger.SequenceStatus(r.Context(), eventID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delivery status failed", "internal")
		return
	}
	if len(attempts) == 0 {
		writeError(w, http.StatusNotFound, "no deliveries for event and webhook", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

// Redeliver handles POST /webhooks/{id}/redeliver/{eventID}. It opens a new
// sequence for the pair regardless of earlier outcomes.
func (h *Handlers) Redeliver(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	ev, err := h.events.GetEvent(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found", "not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "event lookup failed", "internal")
		return
	}
	attempt, err := h.dispatcher.Redeliver(r.Context(), ev, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found", "not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "redeliver failed", "internal")
		return
	}
	h.logger.WithContext(r.Context()).
		WithSubscription(id.String()).
		WithEvent(eventID.String()).
		WithField("sequence", attempt.Sequence).
		Info("redelivery enqueued")
	writeJSON(w, http.StatusAccepted, attempt)
}

type publishEventRequest struct {
	Type        event.Type      `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Data        json.RawMessage `json:"data"`
}

// PublishEvent handles POST /events. Enabled outside production only; real
// traffic enters through the transactional outbox, not this endpoint.
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	if !h.devIngest {
		writeError(w, http.StatusNotFound, "not found", "not_found")
		return
	}
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body", "bad_request")
		return
	}
	if !event.KnownType(req.Type) {
		writeError(w, http.StatusBadRequest, "unknown event type", "unknown_event_type")
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage(`{}`)
	}
	payload, err := event.DecodePayload(req.Type, req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payload does not match event type", "bad_payload")
		return
	}
	ev, err := event.New(req.Type, req.AggregateID, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "bad_request")
		return
	}
	if err := h.events.InsertEvent(r.Context(), ev); err != nil {
		writeError(w, http.StatusInternalServerError, "persist event failed", "internal")
		return
	}
	h.logger.WithContext(r.Context()).
		WithEvent(ev.ID.String()).
		WithField("event_type", string(ev.Type)).
		Info("event accepted")
	writeJSON(w, http.StatusAccepted, ev)
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, "bad_id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) registryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found", "not_found")
	case errors.Is(err, subscription.ErrInvalidURL),
		errors.Is(err, subscription.ErrInsecureURL),
		errors.Is(err, subscription.ErrWeakSecret),
		errors.Is(err, subscription.ErrNoEventTypes),
		errors.Is(err, subscription.ErrUnknownType),
		errors.Is(err, subscription.ErrNothingToUpdate):
		writeError(w, http.StatusBadRequest, err.Error(), "validation")
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate subscription", "conflict")
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "internal")
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

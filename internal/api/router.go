package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventrhq/eventr/internal/health"
)

// NewRouter assembles the admin API, health check and metrics endpoint.
func NewRouter(h *Handlers, db health.Pinger, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health.HTTPHandler(db))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/", h.CreateWebhook)
		r.Get("/", h.ListWebhooks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetWebhook)
			r.Patch("/", h.PatchWebhook)
			r.Delete("/", h.DeleteWebhook)
			r.Get("/deliveries", h.ListDeliveries)
			r.Get("/deliveries/{eventID}", h.GetDeliveryStatus)
			r.Post("/redeliver/{eventID}", h.Redeliver)
		})
	})

	r.Post("/events", h.PublishEvent)

	return r
}

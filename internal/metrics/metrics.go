package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsOutboxedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventr_events_outboxed_total",
			Help: "Total number of domain events written to the outbox.",
		},
	)

	EventsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventr_events_dispatched_total",
			Help: "Total number of outbox events handed to the dispatcher.",
		},
	)

	DispatchFanout = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventr_dispatch_fanout",
			Help:    "Matching subscriptions per dispatched event.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventr_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"status"}, // success, failed, exhausted
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventr_retries_total",
			Help: "Total number of delivery retries by failure reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_4xx, timeout, network
	)

	ExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventr_exhausted_total",
			Help: "Total number of delivery chains that ran out of attempts.",
		},
	)

	DeactivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventr_subscription_deactivations_total",
			Help: "Total number of subscriptions auto-deactivated by failure streaks.",
		},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventr_delivery_latency_seconds",
			Help:    "Latency of outbound webhook POSTs.",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventr_outbox_backlog",
			Help: "Unprocessed outbox rows at the last poll.",
		},
	)
)

// MustRegister attaches all collectors to reg.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsOutboxedTotal,
		EventsDispatchedTotal,
		DispatchFanout,
		DeliveriesTotal,
		RetriesTotal,
		ExhaustedTotal,
		DeactivationsTotal,
		DeliveryLatency,
		OutboxBacklog,
	)
}

// RecordDelivery bumps the outcome counter and observes latency.
func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		DeliveryLatency.Observe(latency.Seconds())
	}
}

// RecordRetry bumps the retry counter for a classified failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

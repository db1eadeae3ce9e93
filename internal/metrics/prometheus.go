package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests by route and status code",
		},
		[]string{"route", "status"},
	)

	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Rejected credentials by reason",
		},
		[]string{"reason"},
	)

	AuthzDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Denied operations by reason code",
		},
		[]string{"reason"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events handed to the transport",
		},
		[]string{"event_type"},
	)

	EventsLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_lost_total",
			Help: "Events dropped after exhausting publish retries; require manual reconciliation",
		},
		[]string{"event_type"},
	)

	OutboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "publisher_outbox_depth",
			Help: "Events waiting in the in-process outbox",
		},
	)

	ConsumerProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_events_processed_total",
			Help: "Events processed per downstream consumer",
		},
		[]string{"consumer"},
	)

	ConsumerDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_duplicate_events_total",
			Help: "Redeliveries skipped by the event_id idempotency marker",
		},
		[]string{"consumer"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current broker queue depth per consumer",
		},
		[]string{"consumer"},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		AuthFailures,
		AuthzDenials,
		EventsPublished,
		EventsLost,
		OutboxDepth,
		ConsumerProcessed,
		ConsumerDuplicates,
		QueueDepth,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

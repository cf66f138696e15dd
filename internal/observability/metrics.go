package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fareshare", Name: "bookings_created_total", Help: "Total bookings created"})
	RidesCreated     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fareshare", Name: "rides_created_total", Help: "Total rides created"})
	IncidentsOpened  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fareshare", Name: "incidents_opened_total", Help: "Total incident reports opened"})
	GeoLookups       = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "fareshare", Name: "geo_lookups_total", Help: "Geocoding proxy lookups"}, []string{"kind", "result"})
	GeoRateLimited   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fareshare", Name: "geo_rate_limited_total", Help: "Geocoding requests rejected by the rate limiter"})
	MailsSent        = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "fareshare", Name: "mails_sent_total", Help: "Outbound mail deliveries"}, []string{"kind", "result"})
	WSConnections    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fareshare", Name: "ws_connections", Help: "Open websocket notification connections"})
	EventsPublished  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "fareshare", Name: "events_published_total", Help: "Platform events published to Kafka"}, []string{"type"})
	EventsConsumed   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "fareshare", Name: "events_consumed_total", Help: "Platform events consumed"}, []string{"type"})
	EventsConsumeErr = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fareshare", Name: "events_consume_errors_total", Help: "Events that failed to process"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fareshare", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fareshare",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

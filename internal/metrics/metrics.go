// Package metrics registers the Prometheus collectors for qqbridge.
// Collectors live in the default registry and are served by promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbridge_http_requests_total",
		Help: "Total inbound HTTP requests, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qqbridge_http_request_duration_seconds",
		Help:    "Latency distribution of inbound HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"method", "endpoint"})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbridge_commands_total",
		Help: "Inbound chat messages by command kind and result status",
	}, []string{"command", "status", "reason"})

	OutboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbridge_gateway_sends_total",
		Help: "Messages sent to the OneBot gateway",
	}, []string{"endpoint", "outcome"})

	OutboundLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qqbridge_gateway_send_duration_seconds",
		Help:    "Latency of OneBot gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbridge_points_transfers_total",
		Help: "Point transfers by outcome",
	}, []string{"outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qqbridge_notifications_total",
		Help: "Content notifications produced, by type",
	}, []string{"type"})
)

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

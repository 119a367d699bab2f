// Package metrics defines the Prometheus collectors for the membership
// subsystem and the HTTP layer in front of it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Membership metrics
	HouseholdsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_households_created_total",
			Help: "Total number of households created",
		},
	)

	InvitationsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_invitations_issued_total",
			Help: "Total number of invitations issued",
		},
	)

	InvitationsRedeemed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_invitations_redeemed_total",
			Help: "Total number of invitations redeemed",
		},
	)

	InvitationsRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_invitations_revoked_total",
			Help: "Total number of invitations revoked",
		},
	)

	InvitationsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_invitations_expired_total",
			Help: "Total number of invitations marked expired",
		},
	)

	JoinRequestsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_join_requests_submitted_total",
			Help: "Total number of join requests submitted",
		},
	)

	JoinRequestsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_join_requests_resolved_total",
			Help: "Total number of join requests resolved by outcome",
		},
		[]string{"outcome"},
	)

	NotificationsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_notifications_written_total",
			Help: "Total number of notification records written",
		},
	)

	// Live channel metrics
	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(HouseholdsCreated)
	prometheus.MustRegister(InvitationsIssued)
	prometheus.MustRegister(InvitationsRedeemed)
	prometheus.MustRegister(InvitationsRevoked)
	prometheus.MustRegister(InvitationsExpired)
	prometheus.MustRegister(JoinRequestsSubmitted)
	prometheus.MustRegister(JoinRequestsResolved)
	prometheus.MustRegister(NotificationsWritten)
	prometheus.MustRegister(WebsocketClients)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure|locked).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapult_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// Registrations counts completed invitation-gated registrations by role.
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapult_registrations_total",
			Help: "Total number of completed registrations",
		},
		[]string{"role"},
	)

	// TokenValidations counts introspection outcomes (access|refresh|invalid).
	TokenValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapult_token_validations_total",
			Help: "Total number of token introspections",
		},
		[]string{"outcome"},
	)

	// InvitesIssued counts invitations created or reissued, by role.
	InvitesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapult_invites_issued_total",
			Help: "Total number of invitations issued",
		},
		[]string{"role"},
	)

	// NotificationSends counts notifyd deliveries by type and status (sent|failed|skipped).
	NotificationSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapult_notification_sends_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"type", "status"},
	)

	// ProxiedRequests counts gateway requests forwarded upstream by route and status.
	ProxiedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapult_gateway_proxied_requests_total",
			Help: "Total number of requests proxied by the gateway",
		},
		[]string{"route", "status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datapult_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

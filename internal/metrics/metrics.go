package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CallbackRequests counts inbound gateway callbacks by method and outcome.
// Outcome is "ok", the protocol error code, or "system_error".
var CallbackRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_callback_requests_total",
		Help: "Inbound payment gateway callbacks.",
	},
	[]string{"gateway", "method", "outcome"},
)

// EntitlementsGranted counts successful subscription grants by tier.
var EntitlementsGranted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "entitlements_granted_total",
		Help: "Subscription grants applied by completed payments.",
	},
	[]string{"gateway", "tier"},
)

// NotificationsEnqueued counts best-effort notification enqueues by result.
var NotificationsEnqueued = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_notifications_enqueued_total",
		Help: "Payment success notifications handed to the queue.",
	},
	[]string{"result"},
)

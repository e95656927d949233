package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSessionMetrics() {
	r.SessionAuthAttemptsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_session_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"}, // pin/external, success/failure
	)

	r.SessionLockoutsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_session_lockouts_total",
			Help: "Total number of sessions locked out after repeated failures",
		},
	)

	r.SessionTimeoutsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_session_timeouts_total",
			Help: "Total number of sessions expired by inactivity",
		},
	)

	r.SessionActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_session_active",
			Help: "Whether a session is currently active (1=yes, 0=no)",
		},
	)
}

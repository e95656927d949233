package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initAuditMetrics() {
	r.AuditEventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"kind"},
	)

	r.AuditWriteFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_audit_write_failures_total",
			Help: "Total number of audit writes that failed and were swallowed",
		},
	)
}

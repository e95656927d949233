package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initBackupMetrics() {
	r.BackupOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_backup_operations_total",
			Help: "Total number of backup operations",
		},
		[]string{"operation", "status"}, // create/restore, success/failure
	)

	r.BackupOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_backup_operation_duration_seconds",
			Help:    "Backup operation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
		},
		[]string{"operation"},
	)

	r.BackupSizeBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_backup_size_bytes",
			Help: "Size of the most recent backup artifact in bytes",
		},
	)

	r.BackupLastSuccessTimestamp = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_backup_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful backup",
		},
	)
}

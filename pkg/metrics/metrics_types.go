package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Vault Metrics
	VaultOperationsTotal    *prometheus.CounterVec
	VaultOperationDuration  *prometheus.HistogramVec
	VaultDocumentsTotal     prometheus.Gauge
	VaultSearchResultsCount prometheus.Histogram

	// Session Metrics
	SessionAuthAttemptsTotal *prometheus.CounterVec
	SessionLockoutsTotal     prometheus.Counter
	SessionTimeoutsTotal     prometheus.Counter
	SessionActive            prometheus.Gauge

	// Backup Metrics
	BackupOperationsTotal      *prometheus.CounterVec
	BackupOperationDuration    *prometheus.HistogramVec
	BackupSizeBytes            prometheus.Gauge
	BackupLastSuccessTimestamp prometheus.Gauge

	// Audit Metrics
	AuditEventsTotal        *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Crypto Metrics
	DecryptionFailuresTotal prometheus.Counter

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initVaultMetrics()
	r.initSessionMetrics()
	r.initBackupMetrics()
	r.initAuditMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initVaultMetrics() {
	r.VaultOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_vault_operations_total",
			Help: "Total number of vault operations",
		},
		[]string{"operation", "status"}, // put, get, update, delete, purge, search
	)

	r.VaultOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_vault_operation_duration_seconds",
			Help:    "Vault operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	r.VaultDocumentsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_vault_documents_total",
			Help: "Number of live documents in the vault",
		},
	)

	r.VaultSearchResultsCount = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docvault_vault_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	r.DecryptionFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_decryption_failures_total",
			Help: "Total number of failed decryptions (tampered or truncated data)",
		},
	)
}

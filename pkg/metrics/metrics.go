package metrics

import (
	"runtime"
	"time"
)

// RecordVaultOperation records a vault operation with its duration
func (r *Registry) RecordVaultOperation(operation, status string, duration time.Duration) {
	r.VaultOperationsTotal.WithLabelValues(operation, status).Inc()
	r.VaultOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSearch records a search with its result count
func (r *Registry) RecordSearch(status string, duration time.Duration, results int) {
	r.RecordVaultOperation("search", status, duration)
	r.VaultSearchResultsCount.Observe(float64(results))
}

// RecordAuthAttempt records an authentication attempt
func (r *Registry) RecordAuthAttempt(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	r.SessionAuthAttemptsTotal.WithLabelValues(method, result).Inc()
	if success {
		r.SessionActive.Set(1)
	}
}

// RecordLockout records a sticky lockout
func (r *Registry) RecordLockout() {
	r.SessionLockoutsTotal.Inc()
	r.SessionActive.Set(0)
}

// RecordSessionEnd records a logout or inactivity timeout
func (r *Registry) RecordSessionEnd(timedOut bool) {
	if timedOut {
		r.SessionTimeoutsTotal.Inc()
	}
	r.SessionActive.Set(0)
}

// RecordBackupOperation records a backup create or restore
func (r *Registry) RecordBackupOperation(operation, status string, duration time.Duration, sizeBytes int64) {
	r.BackupOperationsTotal.WithLabelValues(operation, status).Inc()
	r.BackupOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if status == "success" && operation == "create" {
		r.BackupSizeBytes.Set(float64(sizeBytes))
		r.BackupLastSuccessTimestamp.Set(float64(time.Now().Unix()))
	}
}

// RecordAuditEvent records one appended audit event by kind
func (r *Registry) RecordAuditEvent(kind string) {
	r.AuditEventsTotal.WithLabelValues(kind).Inc()
}

// UpdateSystemMetrics refreshes process-level gauges
func (r *Registry) UpdateSystemMetrics(startTime time.Time) {
	r.UptimeSeconds.Set(time.Since(startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.MemoryAllocBytes.Set(float64(mem.Alloc))
}

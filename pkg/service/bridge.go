package service

import (
	"context"

	"github.com/smachala/docvault/pkg/audit"
	"github.com/smachala/docvault/pkg/metrics"
	"github.com/smachala/docvault/pkg/session"
)

// auditBridge feeds session guard outcomes into the ledger and the
// metrics registry. Record never fails, so the guard never blocks on it.
type auditBridge struct {
	ledger   *audit.Ledger
	registry *metrics.Registry
}

var _ session.AuditRecorder = (*auditBridge)(nil)

func (b *auditBridge) record(event *audit.Event) {
	b.ledger.Record(context.Background(), event)
	b.registry.RecordAuditEvent(string(event.Kind))
}

func (b *auditBridge) AuthSuccess(method string) {
	b.record(audit.NewEvent(audit.KindAuthSuccess).WithPayload(map[string]any{
		"method": method,
	}))
	// Success means the master key was unsealed and the session DEK
	// derived from it
	b.record(audit.NewEvent(audit.KindKeyAccess).WithPayload(map[string]any{
		"key":    "dek",
		"method": method,
	}))
	b.registry.RecordAuthAttempt(method, true)
}

func (b *auditBridge) AuthFailure(method string, attempts int, reason string) {
	b.record(audit.NewEvent(audit.KindAuthFailure).WithPayload(map[string]any{
		"method":   method,
		"attempts": attempts,
		"reason":   reason,
	}))
	b.registry.RecordAuthAttempt(method, false)
	if attempts >= session.MaxFailedAttempts {
		b.registry.RecordLockout()
	}
}

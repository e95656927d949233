package service

import (
	"fmt"
	"time"

	"github.com/smachala/docvault/pkg/audit"
	"github.com/smachala/docvault/pkg/backup"
	"github.com/smachala/docvault/pkg/config"
	"github.com/smachala/docvault/pkg/logging"
	"github.com/smachala/docvault/pkg/metrics"
	"github.com/smachala/docvault/pkg/session"
	"github.com/smachala/docvault/pkg/vault"
)

// ErrConfirmationRequired guards destructive operations that replace the
// live vault. Callers must pass Confirm: true after prompting the user.
var ErrConfirmationRequired = fmt.Errorf("operation requires explicit confirmation")

// Service is the single entry point for hosts (CLI, UI). It wires the
// session guard, the encrypted store, the audit ledger and the backup
// codec together and emits one audit event per user-visible operation.
type Service struct {
	cfg      *config.Config
	logger   logging.Logger
	registry *metrics.Registry

	store  *vault.Store
	ledger *audit.Ledger
	guard  *session.Guard
	codec  *backup.Codec

	startTime time.Time
}

// RestoreOptions for Service.RestoreBackup
type RestoreConfirm struct {
	// Confirm acknowledges that restore replaces the live vault
	Confirm bool
}

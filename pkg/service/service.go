package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/smachala/docvault/pkg/audit"
	"github.com/smachala/docvault/pkg/backup"
	"github.com/smachala/docvault/pkg/config"
	"github.com/smachala/docvault/pkg/crypto"
	"github.com/smachala/docvault/pkg/logging"
	"github.com/smachala/docvault/pkg/metrics"
	"github.com/smachala/docvault/pkg/search"
	"github.com/smachala/docvault/pkg/session"
	"github.com/smachala/docvault/pkg/vault"
)

// New opens the vault at cfg.VaultDir and wires all components. The
// returned service starts unauthenticated; call Setup once, then
// Authenticate each session.
func New(cfg *config.Config, logger logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	registry := metrics.NewRegistry()

	store, err := vault.Open(cfg.VaultDir, logger)
	if err != nil {
		return nil, err
	}

	// The ledger lives in its own database file so a vault restore never
	// rewinds the trail. It carries no key material: auth failures and
	// lockouts must be recordable before any session exists.
	ledger, err := audit.OpenLedger(filepath.Join(cfg.VaultDir, "audit.db"), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	ledger.OnWriteFailure(registry.AuditWriteFailuresTotal.Inc)

	creds, err := session.NewFileCredentialStore(cfg.CredentialDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	guard, err := session.NewGuard(creds, &auditBridge{ledger: ledger, registry: registry}, session.Config{
		InstallID: cfg.InstallID,
		Timeout:   cfg.SessionTimeout(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		logger:    logger.With(logging.String("component", "service")),
		registry:  registry,
		store:     store,
		ledger:    ledger,
		guard:     guard,
		codec:     backup.NewCodec(store, ledger, logger),
		startTime: time.Now(),
	}, nil
}

// Close wipes session state and releases the store and ledger
func (s *Service) Close() error {
	s.guard.Close()
	err := s.store.Close()
	if cerr := s.ledger.Close(); err == nil {
		err = cerr
	}
	return err
}

// Metrics returns the service's metrics registry
func (s *Service) Metrics() *metrics.Registry {
	s.registry.UpdateSystemMetrics(s.startTime)
	return s.registry
}

// record appends an event to the ledger and counts it
func (s *Service) record(ctx context.Context, event *audit.Event) {
	s.ledger.Record(ctx, event)
	s.registry.RecordAuditEvent(string(event.Kind))
}

// refreshDocumentGauge re-reads the live document count after anything
// that changes it
func (s *Service) refreshDocumentGauge(ctx context.Context) {
	if n, err := s.store.Count(ctx, false); err == nil {
		s.registry.VaultDocumentsTotal.Set(float64(n))
	}
}

// Setup provisions the vault with a new PIN. Re-provisioning clears a
// sticky lockout; it is the only path that does.
func (s *Service) Setup(pin string) error {
	return s.guard.Setup(pin)
}

// Authenticate verifies the PIN, derives the session DEK and loads the
// search index
func (s *Service) Authenticate(ctx context.Context, pin string) error {
	if err := s.guard.Authenticate(pin); err != nil {
		return err
	}
	if err := s.store.LoadIndex(ctx, s.guard); err != nil {
		s.guard.Logout()
		return fmt.Errorf("failed to load search index: %w", err)
	}
	s.refreshDocumentGauge(ctx)
	return nil
}

// AuthenticateExternal accepts a master key released by a platform
// keystore (e.g. after a biometric check) instead of a PIN
func (s *Service) AuthenticateExternal(ctx context.Context, masterKey []byte) error {
	if err := s.guard.AuthenticateExternal(masterKey); err != nil {
		return err
	}
	if err := s.store.LoadIndex(ctx, s.guard); err != nil {
		s.guard.Logout()
		return fmt.Errorf("failed to load search index: %w", err)
	}
	s.refreshDocumentGauge(ctx)
	return nil
}

// Logout wipes the session DEK
func (s *Service) Logout() {
	s.guard.Logout()
	s.registry.RecordSessionEnd(false)
}

// SessionState reports the guard's current lifecycle state
func (s *Service) SessionState() session.State {
	return s.guard.State()
}

// RemainingAttempts reports attempts left before sticky lockout
func (s *Service) RemainingAttempts() int {
	return s.guard.RemainingAttempts()
}

// SetSessionTimeout updates the inactivity window (1-60 minutes)
func (s *Service) SetSessionTimeout(d time.Duration) error {
	if err := s.guard.SetTimeout(d); err != nil {
		return err
	}
	s.record(context.Background(), audit.NewEvent(audit.KindSettingsChanged).WithPayload(map[string]any{
		"setting": "session_timeout",
		"minutes": int(d.Minutes()),
	}))
	return nil
}

// CreateDocument stores a document record. The image and thumbnail, if
// present, must be attached separately with AttachImage; put never sees
// plaintext payload bytes.
func (s *Service) CreateDocument(ctx context.Context, doc *vault.Document) (*vault.Document, error) {
	start := time.Now()
	if err := s.store.Put(ctx, doc, s.guard); err != nil {
		s.registry.RecordVaultOperation("put", "failure", time.Since(start))
		return nil, err
	}
	s.registry.RecordVaultOperation("put", "success", time.Since(start))

	s.refreshDocumentGauge(ctx)

	s.record(ctx, audit.NewEvent(audit.KindDocumentCreated).WithDocument(doc.ID).WithPayload(map[string]any{
		"size_bytes": doc.SizeBytes,
	}))
	s.logger.Info("document created", logging.String("document_id", doc.ID))
	return doc, nil
}

// GetDocument fetches a document and records the view
func (s *Service) GetDocument(ctx context.Context, id string) (*vault.Document, error) {
	start := time.Now()
	doc, err := s.store.Get(ctx, id, s.guard)
	if err != nil {
		s.registry.RecordVaultOperation("get", "failure", time.Since(start))
		return nil, err
	}
	s.registry.RecordVaultOperation("get", "success", time.Since(start))

	s.record(ctx, audit.NewEvent(audit.KindDocumentViewed).WithDocument(id))
	return doc, nil
}

// UpdateDocument applies a metadata update and records it
func (s *Service) UpdateDocument(ctx context.Context, id string, fields vault.UpdateFields) (*vault.Document, error) {
	start := time.Now()
	doc, err := s.store.Update(ctx, id, fields, s.guard)
	if err != nil {
		s.registry.RecordVaultOperation("update", "failure", time.Since(start))
		return nil, err
	}
	s.registry.RecordVaultOperation("update", "success", time.Since(start))

	s.record(ctx, audit.NewEvent(audit.KindDocumentUpdated).WithDocument(id))
	return doc, nil
}

// DeleteDocument soft-deletes a document: it disappears from reads and
// search but its row and blobs remain until PurgeDocument
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	start := time.Now()
	if err := s.store.SoftDelete(ctx, id, s.guard); err != nil {
		s.registry.RecordVaultOperation("delete", "failure", time.Since(start))
		return err
	}
	s.registry.RecordVaultOperation("delete", "success", time.Since(start))

	s.refreshDocumentGauge(ctx)

	s.record(ctx, audit.NewEvent(audit.KindDocumentDeleted).WithDocument(id))
	return nil
}

// PurgeDocument permanently removes a soft-deleted document's row and
// blob files
func (s *Service) PurgeDocument(ctx context.Context, id string) error {
	start := time.Now()
	if err := s.store.Purge(ctx, id, s.guard); err != nil {
		s.registry.RecordVaultOperation("purge", "failure", time.Since(start))
		return err
	}
	s.registry.RecordVaultOperation("purge", "success", time.Since(start))

	s.refreshDocumentGauge(ctx)

	s.record(ctx, audit.NewEvent(audit.KindDocumentDeleted).WithDocument(id).WithPayload(map[string]any{
		"purged": true,
	}))
	return nil
}

// Search runs a full-text query over live documents. The audit trail
// records only the query length, never its text.
func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]search.Result, error) {
	start := time.Now()
	if _, err := s.guard.DEK(); err != nil {
		return nil, err
	}
	results, err := s.store.Search(ctx, query, limit, offset)
	if err != nil {
		s.registry.RecordSearch("failure", time.Since(start), 0)
		return nil, err
	}
	s.registry.RecordSearch("success", time.Since(start), len(results))

	s.record(ctx, audit.NewEvent(audit.KindSearchPerformed).WithPayload(map[string]any{
		"query_length": len(query),
		"results":      len(results),
	}))
	return results, nil
}

// AttachImage encrypts plaintext image bytes under the session DEK and
// writes them as the document's blob of the given kind
func (s *Service) AttachImage(ctx context.Context, docID, kind string, plaintext []byte) (string, error) {
	dek, err := s.guard.DEK()
	if err != nil {
		return "", err
	}
	ciphertext, err := crypto.EncryptWithKey(plaintext, dek)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt image: %w", err)
	}
	path, err := s.store.Blobs().Write(docID, kind, ciphertext)
	if err != nil {
		return "", err
	}
	return path, nil
}

// LoadImage reads and decrypts a blob written by AttachImage. A tag
// failure is audited as a decryption error before being returned.
func (s *Service) LoadImage(ctx context.Context, docID, path string) ([]byte, error) {
	dek, err := s.guard.DEK()
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.store.Blobs().Read(path)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.DecryptWithKey(ciphertext, dek)
	if err != nil {
		s.registry.DecryptionFailuresTotal.Inc()
		s.record(ctx, audit.NewEvent(audit.KindDecryptionError).WithDocument(docID).WithError(err.Error()))
		return nil, err
	}
	return plaintext, nil
}

// CreateBackup produces an encrypted artifact of the whole vault. With a
// configured S3 bucket the artifact is also uploaded; the backup password
// is independent of the PIN.
func (s *Service) CreateBackup(ctx context.Context, password []byte) (*backup.BackupRecord, error) {
	start := time.Now()

	opts := backup.CreateOptions{Dir: s.cfg.Backup.Dir}
	if s.cfg.Backup.S3Bucket != "" {
		gateway, err := backup.NewS3Gateway(ctx, s.cfg.Backup.S3Bucket)
		if err != nil {
			return nil, err
		}
		opts.Gateway = gateway
		opts.RemotePath = s.cfg.Backup.RemotePrefix
	}

	record, err := s.codec.Create(ctx, password, opts)
	if err != nil {
		s.registry.RecordBackupOperation("create", "failure", time.Since(start), 0)
		return nil, err
	}
	s.registry.RecordBackupOperation("create", "success", time.Since(start), record.SizeBytes)
	return record, nil
}

// RestoreBackup replaces the live vault with the artifact described by
// record. It is destructive and refuses to run without confirmation.
func (s *Service) RestoreBackup(ctx context.Context, record *backup.BackupRecord, password []byte, confirm RestoreConfirm) error {
	if !confirm.Confirm {
		return ErrConfirmationRequired
	}
	start := time.Now()

	opts := backup.RestoreOptions{}
	if record != nil && record.RemotePath != "" && record.LocalPath == "" && s.cfg.Backup.S3Bucket != "" {
		gateway, err := backup.NewS3Gateway(ctx, s.cfg.Backup.S3Bucket)
		if err != nil {
			return err
		}
		opts.Gateway = gateway
	}

	if err := s.codec.Restore(ctx, record, password, opts); err != nil {
		s.registry.RecordBackupOperation("restore", "failure", time.Since(start), 0)
		return err
	}
	s.registry.RecordBackupOperation("restore", "success", time.Since(start), 0)
	s.refreshDocumentGauge(ctx)

	// The swap dropped the in-memory index; rebuild it for the active
	// session if there is one
	if _, err := s.guard.DEK(); err == nil {
		if err := s.store.LoadIndex(ctx, s.guard); err != nil {
			return fmt.Errorf("failed to reload search index: %w", err)
		}
	}
	return nil
}

// AuditTrail returns the event history for one document
func (s *Service) AuditTrail(ctx context.Context, docID string, limit, offset int) ([]*audit.Event, error) {
	return s.ledger.Query(ctx, audit.Filter{DocumentID: docID}, limit, offset)
}

// AuditEvents returns events matching the filter
func (s *Service) AuditEvents(ctx context.Context, filter audit.Filter, limit, offset int) ([]*audit.Event, error) {
	return s.ledger.Query(ctx, filter, limit, offset)
}

// AuditSummary aggregates event counts over an optional date range
func (s *Service) AuditSummary(ctx context.Context, from, to *time.Time) (*audit.Summary, error) {
	return s.ledger.Summarize(ctx, from, to)
}

// ExportAuditTrail streams all recorded events to w as JSON lines and
// clears them, recording the clear itself on the ledger
func (s *Service) ExportAuditTrail(ctx context.Context, w io.Writer) (int, error) {
	return s.ledger.ExportThenClear(ctx, w)
}

// DocumentCount returns the number of live documents
func (s *Service) DocumentCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx, false)
}

// Optimize compacts the vault database (checkpoint, vacuum, analyze)
func (s *Service) Optimize(ctx context.Context) error {
	return s.store.Optimize(ctx)
}

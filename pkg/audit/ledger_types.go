package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed enumeration of auditable actions
type Kind string

const (
	KindDocumentCreated Kind = "document_created"
	KindDocumentViewed  Kind = "document_viewed"
	KindDocumentUpdated Kind = "document_updated"
	KindDocumentDeleted Kind = "document_deleted"
	KindSearchPerformed Kind = "search_performed"
	KindAuthSuccess     Kind = "auth_success"
	KindAuthFailure     Kind = "auth_failure"
	KindBackupExported  Kind = "backup_exported"
	KindBackupRestored  Kind = "backup_restored"
	KindDecryptionError Kind = "decryption_error"
	KindKeyAccess       Kind = "key_access"
	KindSettingsChanged Kind = "settings_changed"
)

// Valid reports whether k is a member of the closed enumeration
func (k Kind) Valid() bool {
	switch k {
	case KindDocumentCreated, KindDocumentViewed, KindDocumentUpdated,
		KindDocumentDeleted, KindSearchPerformed, KindAuthSuccess,
		KindAuthFailure, KindBackupExported, KindBackupRestored,
		KindDecryptionError, KindKeyAccess, KindSettingsChanged:
		return true
	}
	return false
}

// Event is a single ledger entry. Once written it is never updated or
// deleted; queries are the only read path. Events carry operational
// metadata only — never document content or key material.
type Event struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Timestamp    time.Time      `json:"timestamp"`
	UserID       string         `json:"user_id,omitempty"`
	DeviceID     string         `json:"device_id,omitempty"`
	DocumentID   string         `json:"document_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// NewEvent creates an event with a pre-generated id and the current
// timestamp. Pre-generating the id makes retried writes idempotent: a
// retry inserts under the same primary key and deduplicates at the
// storage layer.
func NewEvent(kind Kind) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// WithDocument attaches a related document id
func (e *Event) WithDocument(id string) *Event {
	e.DocumentID = id
	return e
}

// WithPayload attaches structured payload fields
func (e *Event) WithPayload(payload map[string]any) *Event {
	e.Payload = payload
	return e
}

// WithError attaches an error message
func (e *Event) WithError(msg string) *Event {
	e.ErrorMessage = msg
	return e
}

// Filter restricts a query; zero-value fields are ignored and the set
// fields combine conjunctively.
type Filter struct {
	Kind       Kind
	DocumentID string
	From       *time.Time
	To         *time.Time
}

// Summary aggregates ledger activity over a range
type Summary struct {
	TotalEvents  int64            `json:"total_events"`
	ByKind       map[Kind]int64   `json:"by_kind"`
	ByDocument   map[string]int64 `json:"by_document"`
	AuthSuccess  int64            `json:"auth_success"`
	AuthFailures int64            `json:"auth_failures"`
}

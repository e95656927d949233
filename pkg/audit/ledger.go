package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/smachala/docvault/pkg/logging"
)

// Ledger is the append-only audit trail. It is the single writer for its
// table; no update or delete of individual events is ever exposed. The
// ledger does not hold or depend on key material: it must stay writable
// for auth failures and lockouts, which happen before any session exists,
// so its rows carry operational metadata only.
type Ledger struct {
	mu     sync.Mutex
	db     *sql.DB
	ownsDB bool
	logger logging.Logger

	onWriteFailure func()
}

// OpenLedger opens (or creates) a dedicated ledger database at path. The
// ledger lives in its own file, not the vault database, so a vault
// restore never rewinds the trail and the ledger outlives database swaps.
func OpenLedger(path string, logger logging.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}
	db.SetMaxOpenConns(1)

	ledger, err := NewLedger(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	ledger.ownsDB = true
	return ledger, nil
}

// NewLedger creates the ledger over an existing database handle. The
// caller keeps ownership of the handle; most callers want OpenLedger.
func NewLedger(db *sql.DB, logger logging.Logger) (*Ledger, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		user_id     TEXT,
		device_id   TEXT,
		document_id TEXT,
		payload     TEXT,
		error_msg   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_events(kind);
	CREATE INDEX IF NOT EXISTS idx_audit_document ON audit_events(document_id);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);`

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	return &Ledger{
		db:     db,
		logger: logger.With(logging.String("component", "audit")),
	}, nil
}

// Close releases the ledger database if the ledger owns it
func (l *Ledger) Close() error {
	if l.ownsDB {
		return l.db.Close()
	}
	return nil
}

// Record appends an event. It never fails the caller: audit logging is a
// side effect of the triggering operation, not a precondition, so any
// storage error is reported on the best-effort log channel and swallowed.
func (l *Ledger) Record(ctx context.Context, event *Event) {
	if err := l.record(ctx, event); err != nil {
		kind := ""
		if event != nil {
			kind = string(event.Kind)
		}
		l.logger.Error("audit write failed", logging.String("kind", kind), logging.Err(err))
		if l.onWriteFailure != nil {
			l.onWriteFailure()
		}
	}
}

// OnWriteFailure registers a callback invoked for every swallowed write
// failure, so hosts can count them. Must be set before concurrent use.
func (l *Ledger) OnWriteFailure(fn func()) {
	l.onWriteFailure = fn
}

// record is the explicit error-returning write path behind Record
func (l *Ledger) record(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("nil audit event")
	}
	if !event.Kind.Valid() {
		return fmt.Errorf("unknown audit kind %q", event.Kind)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var payload any
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payload = string(data)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// INSERT OR IGNORE: retried writes with a pre-generated id must not
	// duplicate an event whose prior attempt partially succeeded
	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_events (id, kind, ts, user_id, device_id, document_id, payload, error_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Kind), event.Timestamp.UnixNano(),
		nullable(event.UserID), nullable(event.DeviceID), nullable(event.DocumentID),
		payload, nullable(event.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query returns events matching the filter in chronological order
func (l *Ledger) Query(ctx context.Context, filter Filter, limit, offset int) ([]*Event, error) {
	q := `SELECT id, kind, ts, user_id, device_id, document_id, payload, error_msg FROM audit_events WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.DocumentID != "" {
		q += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	if filter.From != nil {
		q += ` AND ts >= ?`
		args = append(args, filter.From.UnixNano())
	}
	if filter.To != nil {
		q += ` AND ts <= ?`
		args = append(args, filter.To.UnixNano())
	}

	q += ` ORDER BY ts ASC, id ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	} else {
		q += ` LIMIT -1`
	}
	if offset > 0 {
		q += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Summarize aggregates event counts over an optional date range. It is a
// pure read reduction; nothing is mutated.
func (l *Ledger) Summarize(ctx context.Context, from, to *time.Time) (*Summary, error) {
	events, err := l.Query(ctx, Filter{From: from, To: to}, 0, 0)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		ByKind:     make(map[Kind]int64),
		ByDocument: make(map[string]int64),
	}
	for _, ev := range events {
		summary.TotalEvents++
		summary.ByKind[ev.Kind]++
		if ev.DocumentID != "" {
			summary.ByDocument[ev.DocumentID]++
		}
		switch ev.Kind {
		case KindAuthSuccess:
			summary.AuthSuccess++
		case KindAuthFailure:
			summary.AuthFailures++
		}
	}
	return summary, nil
}

// Count returns the total number of recorded events
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}

// ExportThenClear is the only bulk removal path: it streams every event up
// to the moment of the call as JSON lines to w, deletes the exported rows
// in the same transaction, and records the clear itself as a new
// settings_changed event. Individual events remain immutable throughout.
func (l *Ledger) ExportThenClear(ctx context.Context, w io.Writer) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().UnixNano()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin export transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, ts, user_id, device_id, document_id, payload, error_msg
		FROM audit_events WHERE ts <= ? ORDER BY ts ASC, id ASC`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to read events for export: %w", err)
	}

	events, err := scanEvents(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return 0, fmt.Errorf("failed to write export stream: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_events WHERE ts <= ?`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to clear exported events: %w", err)
	}

	// The clear is itself audited, inside the same transaction
	marker := NewEvent(KindSettingsChanged).WithPayload(map[string]any{
		"action":          "audit_export_then_clear",
		"exported_events": len(events),
	})
	payload, _ := json.Marshal(marker.Payload)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, kind, ts, user_id, device_id, document_id, payload, error_msg)
		VALUES (?, ?, ?, NULL, NULL, NULL, ?, NULL)`,
		marker.ID, string(marker.Kind), marker.Timestamp.UnixNano(), string(payload)); err != nil {
		return 0, fmt.Errorf("failed to record clear marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit export: %w", err)
	}
	return len(events), nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var ev Event
		var ts int64
		var userID, deviceID, documentID, payload, errorMsg sql.NullString

		if err := rows.Scan(&ev.ID, (*string)(&ev.Kind), &ts, &userID, &deviceID, &documentID, &payload, &errorMsg); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		ev.Timestamp = time.Unix(0, ts)
		ev.UserID = userID.String
		ev.DeviceID = deviceID.String
		ev.DocumentID = documentID.String
		ev.ErrorMessage = errorMsg.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload of event %s: %w", ev.ID, err)
			}
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	return events, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

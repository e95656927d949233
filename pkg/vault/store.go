package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/smachala/docvault/pkg/crypto"
	"github.com/smachala/docvault/pkg/logging"
	"github.com/smachala/docvault/pkg/search"
)

// KeySource exposes the live DEK for the duration of one call. The
// session guard satisfies this; the store itself never holds key material
// beyond a single operation.
type KeySource interface {
	DEK() ([]byte, error)
}

const (
	dbFileName  = "vault.db"
	blobDirName = "blobs"
)

// Store is the single authority for persisted document metadata, the
// full-text index, and the mapping from document id to its encrypted blob
// files. Sensitive row fields are AEAD-encrypted with the DEK before they
// reach sqlite; the index is held in memory and persisted as an encrypted
// snapshot inside every mutating transaction, so metadata row and index
// entry can never diverge.
type Store struct {
	mu sync.RWMutex

	root   string
	db     *sql.DB
	blobs  *BlobStore
	index  *search.Index
	logger logging.Logger
	closed bool
}

// Open opens (creating if necessary) the vault store rooted at dir
func Open(dir string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	blobs, err := NewBlobStore(filepath.Join(dir, blobDirName))
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:   dir,
		db:     db,
		blobs:  blobs,
		index:  search.NewIndex(),
		logger: logger.With(logging.String("component", "vault")),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single-writer discipline: WAL journal, serialized writes, generous
	// busy timeout for concurrent readers
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}
	db.SetMaxOpenConns(1)

	return db, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		captured_at INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		image_path  TEXT NOT NULL,
		thumb_path  TEXT NOT NULL,
		checksum    TEXT NOT NULL,
		size_bytes  INTEGER NOT NULL,
		deleted     INTEGER NOT NULL DEFAULT 0,
		envelope    BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_deleted ON documents(deleted);

	CREATE TABLE IF NOT EXISTS search_snapshot (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		snapshot BLOB NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for maintenance tooling
func (s *Store) DB() *sql.DB {
	return s.db
}

// Blobs returns the encrypted blob file store
func (s *Store) Blobs() *BlobStore {
	return s.blobs
}

// Root returns the vault root directory
func (s *Store) Root() string { return s.root }

// DBPath returns the database file path
func (s *Store) DBPath() string { return filepath.Join(s.root, dbFileName) }

// BlobDir returns the encrypted blob directory
func (s *Store) BlobDir() string { return s.blobs.Dir() }

// Close closes the store
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Put inserts a new document in a single transaction covering both the
// metadata row and the search index snapshot; any failure leaves the store
// exactly as it was. The document's payload must already be encrypted and
// written through the blob store; Put only sees ciphertext paths.
func (s *Store) Put(ctx context.Context, doc *Document, keys KeySource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.CapturedAt.IsZero() {
		doc.CapturedAt = doc.CreatedAt
	}

	if err := doc.Validate(); err != nil {
		return err
	}

	dek, err := keys.DEK()
	if err != nil {
		return err
	}

	sealed, err := sealEnvelope(doc.toEnvelope(), dek)
	if err != nil {
		return err
	}

	// Index first so the snapshot written below includes this document;
	// rolled back in memory if the transaction fails
	s.index.Add(doc.ID, doc.indexFields()...)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents
				(id, captured_at, created_at, updated_at, image_path, thumb_path, checksum, size_bytes, deleted, envelope)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			doc.ID, doc.CapturedAt.UnixNano(), doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(),
			doc.ImagePath, doc.ThumbnailPath, doc.Checksum, doc.SizeBytes, sealed)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		return s.persistIndexTx(ctx, tx, dek)
	})
	if err != nil {
		s.index.Remove(doc.ID)
		return err
	}

	return nil
}

// Get returns the metadata of a non-soft-deleted document. Soft-deleted
// and absent ids are both reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, id string, keys KeySource) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	dek, err := keys.DEK()
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, captured_at, created_at, updated_at, image_path, thumb_path, checksum, size_bytes, envelope
		FROM documents WHERE id = ? AND deleted = 0`, id)

	return scanDocument(row, dek)
}

// Update mutates the mutable metadata fields of a document. The encrypted
// payload, checksum, and capture timestamp are immutable after creation.
func (s *Store) Update(ctx context.Context, id string, fields UpdateFields, keys KeySource) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	dek, err := keys.DEK()
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, captured_at, created_at, updated_at, image_path, thumb_path, checksum, size_bytes, envelope
		FROM documents WHERE id = ? AND deleted = 0`, id)
	doc, err := scanDocument(row, dek)
	if err != nil {
		return nil, err
	}

	previous := doc.indexFields()

	doc.Title = fields.Title
	doc.Description = fields.Description
	doc.DocType = fields.DocType
	doc.OCRText = fields.OCRText
	doc.Tags = fields.Tags
	doc.Metadata = fields.Metadata
	doc.UpdatedAt = time.Now()

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	sealed, err := sealEnvelope(doc.toEnvelope(), dek)
	if err != nil {
		return nil, err
	}

	s.index.Add(doc.ID, doc.indexFields()...)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE documents SET updated_at = ?, envelope = ? WHERE id = ? AND deleted = 0`,
			doc.UpdatedAt.UnixNano(), sealed, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		return s.persistIndexTx(ctx, tx, dek)
	})
	if err != nil {
		s.index.Add(doc.ID, previous...)
		return nil, err
	}

	return doc, nil
}

// SoftDelete flips the delete flag and drops the document from the search
// index. The encrypted blob files are left untouched.
func (s *Store) SoftDelete(ctx context.Context, id string, keys KeySource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	dek, err := keys.DEK()
	if err != nil {
		return err
	}

	// Capture current index content in case the transaction fails
	removed := s.index.Contains(id)
	s.index.Remove(id)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`,
			time.Now().UnixNano(), id)
		if err != nil {
			return fmt.Errorf("failed to soft-delete document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return s.persistIndexTx(ctx, tx, dek)
	})
	if err != nil {
		if removed && err != ErrNotFound {
			// Best effort: the row is unchanged, rebuild will restore the
			// entry on next unlock
			s.logger.Warn("index entry lost during failed soft-delete", logging.String("document_id", id))
		}
		return err
	}

	return nil
}

// Purge physically removes a soft-deleted document: its row, its index
// entry, and both blob files. This is the only path that deletes data.
func (s *Store) Purge(ctx context.Context, id string, keys KeySource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	dek, err := keys.DEK()
	if err != nil {
		return err
	}

	var imagePath, thumbPath string
	row := s.db.QueryRowContext(ctx, `SELECT image_path, thumb_path FROM documents WHERE id = ?`, id)
	if err := row.Scan(&imagePath, &thumbPath); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load document for purge: %w", err)
	}

	s.index.Remove(id)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to purge document: %w", err)
		}
		return s.persistIndexTx(ctx, tx, dek)
	})
	if err != nil {
		return err
	}

	// Blob removal happens after the row is gone; a leftover ciphertext
	// file is unreadable without the DEK and cleaned up by Optimize
	for _, p := range []string{imagePath, thumbPath} {
		if p == "" {
			continue
		}
		if err := s.blobs.Remove(p); err != nil {
			s.logger.Warn("failed to remove blob during purge",
				logging.String("document_id", id), logging.Err(err))
		}
	}

	return nil
}

// Search runs a full-text query over title, extracted text, and tags.
// Pagination is stable across calls while the underlying data is
// unchanged. Only ids and scores come back; callers Get what they need.
func (s *Store) Search(ctx context.Context, query string, limit, offset int) ([]search.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	return s.index.SearchPage(query, limit, offset), nil
}

// Count returns the number of documents, excluding soft-deleted ones
// unless includeDeleted is set
func (s *Store) Count(ctx context.Context, includeDeleted bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	q := `SELECT COUNT(*) FROM documents WHERE deleted = 0`
	if includeDeleted {
		q = `SELECT COUNT(*) FROM documents`
	}

	var n int
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Optimize reclaims storage and compacts the database. It serializes
// against all other store operations internally, so it is safe to call
// at any time.
func (s *Store) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("failed to analyze: %w", err)
	}
	return nil
}

// LoadIndex restores the search index at session start: the persisted
// encrypted snapshot if present, otherwise a full rebuild from the rows.
func (s *Store) LoadIndex(ctx context.Context, keys KeySource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	dek, err := keys.DEK()
	if err != nil {
		return err
	}

	var sealed []byte
	err = s.db.QueryRowContext(ctx, `SELECT snapshot FROM search_snapshot WHERE id = 1`).Scan(&sealed)
	if err == nil {
		plain, derr := crypto.DecryptWithKey(sealed, dek)
		if derr == nil {
			if idx, perr := search.Deserialize(plain); perr == nil {
				s.index = idx
				return nil
			}
		}
		s.logger.Warn("search snapshot unreadable, rebuilding index")
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to load search snapshot: %w", err)
	}

	return s.rebuildIndexLocked(ctx, dek)
}

// rebuildIndexLocked reconstructs the index from every live row (lock held)
func (s *Store) rebuildIndexLocked(ctx context.Context, dek []byte) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, envelope FROM documents WHERE deleted = 0`)
	if err != nil {
		return fmt.Errorf("failed to scan documents for reindex: %w", err)
	}
	defer rows.Close()

	idx := search.NewIndex()
	for rows.Next() {
		var id string
		var sealed []byte
		if err := rows.Scan(&id, &sealed); err != nil {
			return fmt.Errorf("failed to scan document row: %w", err)
		}

		env, err := openEnvelope(sealed, dek)
		if err != nil {
			return fmt.Errorf("failed to decrypt document %s during reindex: %w", id, err)
		}

		var doc Document
		doc.applyEnvelope(env)
		idx.Add(id, doc.indexFields()...)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reindex scan failed: %w", err)
	}

	s.index = idx
	return nil
}

// Checkpoint flushes the WAL so the database file on disk is a complete,
// consistent snapshot. Used by the backup codec before copying.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}

// CopySnapshot checkpoints the database and copies it, together with the
// whole blob directory, into destDir — all under the store-wide write
// lock, so the copy sees a quiescent store. It returns the copied
// database path, the copied blob directory, and the live document count.
func (s *Store) CopySnapshot(ctx context.Context, destDir string) (string, string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", "", 0, ErrClosed
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE deleted = 0`).Scan(&count); err != nil {
		return "", "", 0, fmt.Errorf("failed to count documents: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return "", "", 0, fmt.Errorf("failed to checkpoint database: %w", err)
	}

	if err := os.MkdirAll(destDir, 0700); err != nil {
		return "", "", 0, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	dbCopy := filepath.Join(destDir, dbFileName)
	if err := copyFile(filepath.Join(s.root, dbFileName), dbCopy); err != nil {
		return "", "", 0, fmt.Errorf("failed to copy database: %w", err)
	}

	blobsCopy := filepath.Join(destDir, blobDirName)
	if err := copyDir(s.blobs.Dir(), blobsCopy); err != nil {
		return "", "", 0, fmt.Errorf("failed to copy blobs: %w", err)
	}

	return dbCopy, blobsCopy, count, nil
}

// copyFile copies a regular file preserving its mode
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

// copyDir copies a flat directory of regular files
func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0700); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// SwapFiles atomically replaces the live database and blob directory with
// staged ones. The store is closed for the swap and reopened afterwards;
// the in-memory index is dropped and must be reloaded with LoadIndex.
// Callers must hold no other reference into the store across this call.
func (s *Store) SwapFiles(stagedDB, stagedBlobs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database for swap: %w", err)
	}
	s.closed = true

	dbPath := filepath.Join(s.root, dbFileName)
	blobDir := s.blobs.Dir()

	// Move the live files aside first so a failed swap can roll back
	oldDB := dbPath + ".old"
	oldBlobs := blobDir + ".old"
	// WAL sidecar files are stale after the checkpointed copy
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")

	if err := os.Rename(dbPath, oldDB); err != nil {
		return s.rollbackSwapLocked(fmt.Errorf("failed to stage out database: %w", err))
	}
	if err := os.Rename(stagedDB, dbPath); err != nil {
		os.Rename(oldDB, dbPath)
		return s.rollbackSwapLocked(fmt.Errorf("failed to swap database: %w", err))
	}
	if err := os.Rename(blobDir, oldBlobs); err != nil {
		os.Rename(oldDB, dbPath)
		return s.rollbackSwapLocked(fmt.Errorf("failed to stage out blobs: %w", err))
	}
	if err := os.Rename(stagedBlobs, blobDir); err != nil {
		os.Rename(oldBlobs, blobDir)
		os.Rename(oldDB, dbPath)
		return s.rollbackSwapLocked(fmt.Errorf("failed to swap blobs: %w", err))
	}

	os.RemoveAll(oldBlobs)
	os.Remove(oldDB)

	db, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	s.db = db
	s.closed = false
	s.index = search.NewIndex()
	return nil
}

// rollbackSwapLocked reopens the live database after a failed swap whose
// on-disk state has already been rolled back, so the store stays usable
// for the process. The swap error wins over any reopen error.
func (s *Store) rollbackSwapLocked(swapErr error) error {
	db, err := openDatabase(filepath.Join(s.root, dbFileName))
	if err != nil {
		return fmt.Errorf("%w (database also failed to reopen: %v)", swapErr, err)
	}
	s.db = db
	s.closed = false
	return swapErr
}

// withTx runs fn inside a transaction with rollback on error
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// persistIndexTx writes the encrypted index snapshot inside the caller's
// transaction so row and index commit or roll back together
func (s *Store) persistIndexTx(ctx context.Context, tx *sql.Tx, dek []byte) error {
	plain, err := s.index.Serialize()
	if err != nil {
		return err
	}

	sealed, err := crypto.EncryptWithKey(plain, dek)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO search_snapshot (id, snapshot) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot`, sealed)
	if err != nil {
		return fmt.Errorf("failed to persist search snapshot: %w", err)
	}
	return nil
}

// sealEnvelope encrypts a document envelope with the DEK
func sealEnvelope(env envelope, dek []byte) ([]byte, error) {
	plain, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return crypto.EncryptWithKey(plain, dek)
}

// openEnvelope decrypts a document envelope with the DEK
func openEnvelope(sealed, dek []byte) (envelope, error) {
	plain, err := crypto.DecryptWithKey(sealed, dek)
	if err != nil {
		return envelope{}, err
	}

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}

// scanDocument reads one document row and decrypts its envelope
func scanDocument(row *sql.Row, dek []byte) (*Document, error) {
	var doc Document
	var capturedAt, createdAt, updatedAt int64
	var sealed []byte

	err := row.Scan(&doc.ID, &capturedAt, &createdAt, &updatedAt,
		&doc.ImagePath, &doc.ThumbnailPath, &doc.Checksum, &doc.SizeBytes, &sealed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	env, err := openEnvelope(sealed, dek)
	if err != nil {
		return nil, err
	}
	doc.applyEnvelope(env)

	doc.CapturedAt = time.Unix(0, capturedAt)
	doc.CreatedAt = time.Unix(0, createdAt)
	doc.UpdatedAt = time.Unix(0, updatedAt)
	return &doc, nil
}

package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/smachala/docvault/pkg/audit"
	"github.com/smachala/docvault/pkg/crypto"
	"github.com/smachala/docvault/pkg/logging"
	"github.com/smachala/docvault/pkg/vault"
)

// Codec produces and restores encrypted backup artifacts. It never holds
// key material between calls: the BEK is derived inside each operation
// and wiped on every exit path.
type Codec struct {
	store  *vault.Store
	ledger *audit.Ledger
	logger logging.Logger
}

// NewCodec creates a codec over the given store and audit ledger
func NewCodec(store *vault.Store, ledger *audit.Ledger, logger logging.Logger) *Codec {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Codec{
		store:  store,
		ledger: ledger,
		logger: logger.With(logging.String("component", "backup")),
	}
}

// Create snapshots the store, archives it, encrypts the archive under a
// key derived from password, and writes the artifact plus its record
// sidecar into opts.Dir. The artifact layout is
// salt(32) ‖ nonce(16) ‖ ciphertext ‖ tag(16); the record checksum covers
// the encrypted artifact, not the plaintext archive.
func (c *Codec) Create(ctx context.Context, password []byte, opts CreateOptions) (*BackupRecord, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("backup directory not set")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("backup password must not be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "docvault-backup-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// Snapshot under the store-wide lock so the archive sees a quiescent
	// database and blob directory
	dbCopy, blobsCopy, count, err := c.store.CopySnapshot(ctx, filepath.Join(tmpDir, "snapshot"))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}

	archive, err := packArchive(dbCopy, blobsCopy)
	if err != nil {
		return nil, err
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup salt: %w", err)
	}
	bek, err := crypto.DeriveBEK(password, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive backup key: %w", err)
	}
	defer crypto.Wipe(bek)
	c.ledger.Record(ctx, audit.NewEvent(audit.KindKeyAccess).WithPayload(map[string]any{
		"key":       "bek",
		"operation": "backup_create",
	}))

	encrypted, err := crypto.EncryptWithKey(archive, bek)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt archive: %w", err)
	}
	artifact := make([]byte, 0, len(salt)+len(encrypted))
	artifact = append(artifact, salt...)
	artifact = append(artifact, encrypted...)

	now := time.Now()
	name := fmt.Sprintf("backup-%s%s", now.UTC().Format("20060102-150405"), artifactExt)
	localPath := filepath.Join(opts.Dir, name)
	if err := os.WriteFile(localPath, artifact, 0600); err != nil {
		return nil, fmt.Errorf("failed to write backup artifact: %w", err)
	}

	record := &BackupRecord{
		ID:            uuid.NewString(),
		Provider:      ProviderLocal,
		Timestamp:     now,
		Checksum:      crypto.Checksum(artifact),
		SizeBytes:     int64(len(artifact)),
		LocalPath:     localPath,
		Encrypted:     true,
		DocumentCount: count,
		AppVersion:    appVersion,
		Metadata:      opts.Metadata,
	}

	if opts.Gateway != nil {
		remote := opts.RemotePath
		if remote == "" {
			remote = name
		}
		if err := opts.Gateway.Upload(ctx, localPath, remote); err != nil {
			return nil, fmt.Errorf("failed to upload backup artifact: %w", err)
		}
		record.Provider = opts.Gateway.Provider()
		record.RemotePath = remote
	}

	if err := writeRecord(record); err != nil {
		return nil, err
	}

	c.ledger.Record(ctx, audit.NewEvent(audit.KindBackupExported).WithPayload(map[string]any{
		"backup_id":      record.ID,
		"provider":       record.Provider,
		"document_count": record.DocumentCount,
		"size_bytes":     record.SizeBytes,
	}))

	c.logger.Info("backup created",
		logging.String("backup_id", record.ID),
		logging.Int("documents", record.DocumentCount),
		logging.Secret("backup_password"))
	return record, nil
}

// Restore verifies the artifact against the record checksum, decrypts it
// with a key derived from password, extracts into a staging area, and
// atomically swaps the live database and blob directory. A checksum
// mismatch fails with ErrIntegrity before any decryption; a wrong
// password surfaces as crypto.ErrAuthenticationFailed. The swap is
// destructive and callers must confirm it before invoking Restore.
func (c *Codec) Restore(ctx context.Context, record *BackupRecord, password []byte, opts RestoreOptions) error {
	if record == nil {
		return fmt.Errorf("nil backup record")
	}

	// Stage into a directory we own outright, so cleanup never removes
	// a caller-supplied directory itself
	var staging string
	if opts.StagingDir != "" {
		tmp, err := os.MkdirTemp(opts.StagingDir, "docvault-restore-")
		if err != nil {
			return fmt.Errorf("failed to create staging directory: %w", err)
		}
		staging = tmp
	} else {
		tmp, err := os.MkdirTemp("", "docvault-restore-")
		if err != nil {
			return fmt.Errorf("failed to create staging directory: %w", err)
		}
		staging = tmp
	}
	defer os.RemoveAll(staging)

	artifact, err := c.fetchArtifact(ctx, record, opts, staging)
	if err != nil {
		return err
	}

	// Integrity before decryption: a corrupted artifact is diagnosed as
	// such, never as a wrong password
	if crypto.Checksum(artifact) != record.Checksum {
		return fmt.Errorf("artifact checksum mismatch: %w", ErrIntegrity)
	}
	if len(artifact) < crypto.SaltSize+crypto.NonceSize+crypto.TagSize {
		return fmt.Errorf("artifact too short: %w", ErrIntegrity)
	}

	salt := artifact[:crypto.SaltSize]
	bek, err := crypto.DeriveBEK(password, salt)
	if err != nil {
		return fmt.Errorf("failed to derive backup key: %w", err)
	}
	defer crypto.Wipe(bek)
	c.ledger.Record(ctx, audit.NewEvent(audit.KindKeyAccess).WithPayload(map[string]any{
		"key":       "bek",
		"operation": "backup_restore",
	}))

	archive, err := crypto.DecryptWithKey(artifact[crypto.SaltSize:], bek)
	if err != nil {
		return fmt.Errorf("failed to decrypt backup: %w", err)
	}

	extractDir := filepath.Join(staging, "extracted")
	stagedDB, stagedBlobs, err := unpackArchive(archive, extractDir)
	if err != nil {
		return err
	}

	if err := c.store.SwapFiles(stagedDB, stagedBlobs); err != nil {
		return fmt.Errorf("failed to swap restored files: %w", err)
	}

	c.ledger.Record(ctx, audit.NewEvent(audit.KindBackupRestored).WithPayload(map[string]any{
		"backup_id":      record.ID,
		"provider":       record.Provider,
		"document_count": record.DocumentCount,
	}))

	c.logger.Info("backup restored",
		logging.String("backup_id", record.ID),
		logging.Int("documents", record.DocumentCount))
	return nil
}

// fetchArtifact reads the artifact locally or pulls it through the
// gateway into the staging area
func (c *Codec) fetchArtifact(ctx context.Context, record *BackupRecord, opts RestoreOptions, staging string) ([]byte, error) {
	if opts.Gateway != nil && record.RemotePath != "" {
		local := filepath.Join(staging, "artifact"+artifactExt)
		if err := opts.Gateway.Download(ctx, record.RemotePath, local); err != nil {
			return nil, fmt.Errorf("failed to download backup artifact: %w", err)
		}
		data, err := os.ReadFile(local)
		if err != nil {
			return nil, fmt.Errorf("failed to read downloaded artifact: %w", err)
		}
		return data, nil
	}

	if record.LocalPath == "" {
		return nil, ErrNoArtifact
	}
	data, err := os.ReadFile(record.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup artifact: %w", err)
	}
	return data, nil
}

// writeRecord persists the immutable JSON sidecar next to the artifact
func writeRecord(record *BackupRecord) error {
	data, err := marshalRecord(record)
	if err != nil {
		return err
	}
	path := record.LocalPath + recordSuffix
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup record: %w", err)
	}
	return nil
}

// packArchive writes the snapshot database and blob directory into a
// gzip-compressed tar stream
func packArchive(dbPath, blobDir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := addFile(tw, dbPath, archiveDBName); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(blobDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob snapshot: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(blobDir, entry.Name())
		if err := addFile(tw, src, archiveBlobsDir+"/"+entry.Name()); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

func addFile(tw *tar.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0600,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write archive header for %s: %w", name, err)
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return nil
}

// unpackArchive extracts the tar+gzip archive into destDir and returns
// the staged database path and blob directory
func unpackArchive(archive []byte, destDir string) (string, string, error) {
	if err := os.MkdirAll(filepath.Join(destDir, archiveBlobsDir), 0700); err != nil {
		return "", "", fmt.Errorf("failed to create extraction directory: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return "", "", fmt.Errorf("failed to open compressed archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return "", "", fmt.Errorf("archive entry escapes extraction directory: %q", hdr.Name)
		}

		target := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
			return "", "", fmt.Errorf("failed to create extraction subdirectory: %w", err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return "", "", fmt.Errorf("failed to create extracted file: %w", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return "", "", fmt.Errorf("failed to extract %s: %w", name, err)
		}
		out.Close()
	}

	stagedDB := filepath.Join(destDir, archiveDBName)
	if _, err := os.Stat(stagedDB); err != nil {
		return "", "", fmt.Errorf("archive missing database file: %w", err)
	}
	return stagedDB, filepath.Join(destDir, archiveBlobsDir), nil
}

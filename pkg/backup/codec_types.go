package backup

import (
	"fmt"
	"time"
)

// Provider tags for BackupRecord.Provider
const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

// appVersion is stamped into every BackupRecord so a restore can tell
// which producer wrote the artifact
const appVersion = "docvault/1.0"

// artifactExt is the file extension for encrypted backup artifacts
const artifactExt = ".dvb"

// recordSuffix is appended to the artifact path for the JSON sidecar
const recordSuffix = ".record.json"

// Archive member names inside the tar stream
const (
	archiveDBName   = "vault.db"
	archiveBlobsDir = "blobs"
)

// Errors returned by the codec
var (
	// ErrIntegrity means the artifact bytes do not match the record's
	// checksum. Decryption is never attempted on such an artifact, so
	// this is distinct from a wrong backup password.
	ErrIntegrity = fmt.Errorf("backup integrity check failed")

	ErrNoArtifact = fmt.Errorf("backup artifact not available")
)

// BackupRecord describes one produced artifact. Records are written once,
// never mutated, and may be deleted independently of the artifact.
type BackupRecord struct {
	ID            string            `json:"id"`
	Provider      string            `json:"provider"`
	Timestamp     time.Time         `json:"timestamp"`
	Checksum      string            `json:"checksum"`
	SizeBytes     int64             `json:"size_bytes"`
	RemotePath    string            `json:"remote_path,omitempty"`
	LocalPath     string            `json:"local_path,omitempty"`
	Encrypted     bool              `json:"encrypted"`
	DocumentCount int               `json:"document_count"`
	AppVersion    string            `json:"app_version"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateOptions controls where a backup artifact lands
type CreateOptions struct {
	// Dir is the local directory the artifact and its record sidecar are
	// written to. Required.
	Dir string

	// Gateway, when set, uploads the finished artifact to RemotePath.
	// Only the fully encrypted artifact ever crosses a gateway.
	Gateway    Gateway
	RemotePath string

	Metadata map[string]string
}

// RestoreOptions controls where the artifact is fetched from and staged
type RestoreOptions struct {
	// Gateway, when set together with record.RemotePath, downloads the
	// artifact before restoring. Otherwise record.LocalPath is read.
	Gateway Gateway

	// StagingDir, when set, hosts the extraction staging area. Only the
	// staged subdirectory created inside it is removed afterwards.
	StagingDir string
}

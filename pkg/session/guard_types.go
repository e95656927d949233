package session

import (
	"fmt"
	"time"
)

// State represents the session guard's position in its lifecycle
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateActive          State = "active"
	StateLockedOut       State = "locked_out"
	StateTimedOut        State = "timed_out"
	StateLoggedOut       State = "logged_out"
)

const (
	// MaxFailedAttempts is the sticky lockout threshold. Lockout does not
	// expire with time; only a full re-setup clears it.
	MaxFailedAttempts = 5

	// PINLength is the required PIN length (ASCII digits)
	PINLength = 6

	// DefaultTimeout is the inactivity timeout applied when none is configured
	DefaultTimeout = 15 * time.Minute

	// MinTimeout and MaxTimeout bound the user-configurable inactivity window
	MinTimeout = 1 * time.Minute
	MaxTimeout = 60 * time.Minute
)

// Credential store keys
const (
	keyPINSalt        = "pin_salt"
	keyPINVerifier    = "pin_verifier"
	keyFailedAttempts = "failed_attempts"
	keyLockout        = "lockout"
	keyTimeoutMinutes = "timeout_minutes"
	keyAuthMethod     = "auth_method"
)

var (
	ErrInvalidPIN           = fmt.Errorf("PIN must be exactly %d digits", PINLength)
	ErrAuthenticationFailed = fmt.Errorf("authentication failed")
	ErrLockedOut            = fmt.Errorf("locked out after repeated failures")
	ErrSessionExpired       = fmt.Errorf("session expired")
	ErrNotActive            = fmt.Errorf("no active session")
	ErrNotProvisioned       = fmt.Errorf("vault is not set up")
)

// CredentialStore is the secret-backed store collaborator. Implementations
// must guarantee at-rest protection at least equal to OS-level secure
// storage. Read returns ErrCredentialNotFound for absent keys.
type CredentialStore interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Delete(key string) error
}

// ErrCredentialNotFound is returned by CredentialStore.Read for absent keys
var ErrCredentialNotFound = fmt.Errorf("credential not found")

// AuditRecorder receives authentication outcomes. The guard never blocks on
// it; a nil recorder is valid.
type AuditRecorder interface {
	AuthSuccess(method string)
	AuthFailure(method string, attempts int, reason string)
}

// Config holds guard configuration
type Config struct {
	// InstallID is the stable context for DEK derivation. The same install
	// id always re-derives the same DEK from the same master key.
	InstallID string

	// Timeout is the inactivity window; zero means DefaultTimeout
	Timeout time.Duration
}

package session

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/smachala/docvault/pkg/crypto"
)

// verifierLabel domain-separates the stored PIN verifier from every working
// key, so the credential store never holds anything decryption-capable.
const verifierLabel = "pin-verify"

// Authentication method tags
const (
	MethodPIN       = "pin"
	MethodBiometric = "biometric"
)

// Guard owns the live DEK for the duration of an authenticated session.
// It is an explicitly owned single instance passed by handle to every
// store operation that needs decryption; its lifetime and zeroing are
// caller-visible. All state transitions are mutex-guarded.
type Guard struct {
	mu sync.Mutex

	store    CredentialStore
	recorder AuditRecorder

	installID string
	timeout   time.Duration

	state          State
	dek            []byte
	failedAttempts int
	lastActivity   time.Time

	// now is the clock; replaceable in tests
	now func() time.Time
}

// NewGuard creates a session guard over the given credential store.
// Lockout and failure-counter state persisted by a previous process is
// restored, so a sticky lockout survives restarts.
func NewGuard(store CredentialStore, recorder AuditRecorder, cfg Config) (*Guard, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < MinTimeout || timeout > MaxTimeout {
		return nil, fmt.Errorf("timeout %v outside configurable range [%v, %v]", timeout, MinTimeout, MaxTimeout)
	}

	g := &Guard{
		store:     store,
		recorder:  recorder,
		installID: cfg.InstallID,
		timeout:   timeout,
		state:     StateUnauthenticated,
		now:       time.Now,
	}

	if raw, err := store.Read(keyTimeoutMinutes); err == nil {
		if minutes, err := strconv.Atoi(string(raw)); err == nil {
			d := time.Duration(minutes) * time.Minute
			if d >= MinTimeout && d <= MaxTimeout {
				g.timeout = d
			}
		}
	}
	if raw, err := store.Read(keyFailedAttempts); err == nil {
		if n, err := strconv.Atoi(string(raw)); err == nil {
			g.failedAttempts = n
		}
	}
	if _, err := store.Read(keyLockout); err == nil {
		g.state = StateLockedOut
	}

	return g, nil
}

// Setup provisions (or re-provisions) the vault PIN. This is the explicit
// reset path: it clears the failure counter and any sticky lockout. The
// PIN itself is never stored, only a salt and a domain-separated verifier.
func (g *Guard) Setup(pin string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !validPIN(pin) {
		return ErrInvalidPIN
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}

	master, err := crypto.DeriveMasterKey([]byte(pin), salt)
	if err != nil {
		return err
	}
	defer crypto.Wipe(master)

	verifier, err := crypto.Expand(master, verifierLabel, crypto.KeySize)
	if err != nil {
		return err
	}
	defer crypto.Wipe(verifier)

	if err := g.store.Write(keyPINSalt, salt); err != nil {
		return err
	}
	if err := g.store.Write(keyPINVerifier, verifier); err != nil {
		return err
	}
	if err := g.store.Write(keyAuthMethod, []byte(MethodPIN)); err != nil {
		return err
	}
	if err := g.store.Write(keyFailedAttempts, []byte("0")); err != nil {
		return err
	}
	if err := g.store.Delete(keyLockout); err != nil {
		return err
	}

	g.failedAttempts = 0
	g.wipeDEKLocked()
	g.state = StateUnauthenticated
	return nil
}

// Authenticate verifies a PIN and, on success, derives and holds the DEK
// for the session. A malformed PIN counts as a failed attempt without any
// derivation work. After MaxFailedAttempts consecutive failures every
// further attempt is rejected with ErrLockedOut, correct PIN included.
func (g *Guard) Authenticate(pin string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateLockedOut {
		return ErrLockedOut
	}

	if !validPIN(pin) {
		g.registerFailureLocked(MethodPIN, "malformed PIN")
		if g.state == StateLockedOut {
			return ErrLockedOut
		}
		return ErrInvalidPIN
	}

	salt, err := g.store.Read(keyPINSalt)
	if err != nil {
		if err == ErrCredentialNotFound {
			return ErrNotProvisioned
		}
		return err
	}

	master, err := crypto.DeriveMasterKey([]byte(pin), salt)
	if err != nil {
		return err
	}
	defer crypto.Wipe(master)

	ok, err := g.verifyMasterLocked(master)
	if err != nil {
		return err
	}
	if !ok {
		g.registerFailureLocked(MethodPIN, "wrong PIN")
		if g.state == StateLockedOut {
			return ErrLockedOut
		}
		return ErrAuthenticationFailed
	}

	return g.establishLocked(master, MethodPIN)
}

// AuthenticateExternal establishes a session from a platform-released
// master key, the biometric path: the platform keystore gates access to a
// sealed copy of the master key and releases it only after a successful
// biometric prompt. Platform errors and user cancellation are reported by
// the caller via RecordExternalFailure instead.
func (g *Guard) AuthenticateExternal(masterKey []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateLockedOut {
		return ErrLockedOut
	}

	if !crypto.IsValidKey(masterKey) {
		g.registerFailureLocked(MethodBiometric, "invalid key material")
		if g.state == StateLockedOut {
			return ErrLockedOut
		}
		return crypto.ErrInvalidKey
	}

	ok, err := g.verifyMasterLocked(masterKey)
	if err != nil {
		return err
	}
	if !ok {
		g.registerFailureLocked(MethodBiometric, "key verification failed")
		if g.state == StateLockedOut {
			return ErrLockedOut
		}
		return ErrAuthenticationFailed
	}

	return g.establishLocked(masterKey, MethodBiometric)
}

// RecordExternalFailure counts a biometric platform error or user
// cancellation as a failed attempt.
func (g *Guard) RecordExternalFailure(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registerFailureLocked(MethodBiometric, reason)
}

// DEK returns the live data encryption key after an activity check.
// The returned slice is borrowed, not copied: it becomes all-zero the
// moment the session ends, so callers must not retain it. An expired
// session wipes the DEK before reporting ErrSessionExpired.
func (g *Guard) DEK() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkActiveLocked(); err != nil {
		return nil, err
	}

	g.lastActivity = g.now()
	return g.dek, nil
}

// Logout ends the session. The DEK is wiped before this returns.
func (g *Guard) Logout() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.wipeDEKLocked()
	g.state = StateLoggedOut
}

// Close wipes key material on process teardown
func (g *Guard) Close() {
	g.Logout()
}

// State returns the current lifecycle state, applying the lazy timeout
// check first so callers never observe a stale Active.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateActive {
		g.expireIfIdleLocked()
	}
	return g.state
}

// RemainingAttempts reports how many attempts are left before lockout
func (g *Guard) RemainingAttempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := MaxFailedAttempts - g.failedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Timeout returns the configured inactivity window
func (g *Guard) Timeout() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeout
}

// SetTimeout updates and persists the inactivity window
func (g *Guard) SetTimeout(d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("timeout %v outside configurable range [%v, %v]", d, MinTimeout, MaxTimeout)
	}

	minutes := int(d / time.Minute)
	if err := g.store.Write(keyTimeoutMinutes, []byte(strconv.Itoa(minutes))); err != nil {
		return err
	}
	g.timeout = d
	return nil
}

// verifyMasterLocked checks a candidate master key against the stored
// verifier in constant time (lock held)
func (g *Guard) verifyMasterLocked(master []byte) (bool, error) {
	stored, err := g.store.Read(keyPINVerifier)
	if err != nil {
		if err == ErrCredentialNotFound {
			return false, ErrNotProvisioned
		}
		return false, err
	}

	candidate, err := crypto.Expand(master, verifierLabel, crypto.KeySize)
	if err != nil {
		return false, err
	}
	defer crypto.Wipe(candidate)

	return subtle.ConstantTimeCompare(stored, candidate) == 1, nil
}

// establishLocked performs the session-establishment side effects shared by
// the PIN and biometric paths (lock held)
func (g *Guard) establishLocked(master []byte, method string) error {
	dek, err := crypto.DeriveDEK(master, g.installID)
	if err != nil {
		return err
	}

	g.wipeDEKLocked()
	g.dek = dek
	g.failedAttempts = 0
	g.lastActivity = g.now()
	g.state = StateActive

	// Persistence of the reset counter is best-effort: a failed write must
	// not undo a successful authentication
	g.store.Write(keyFailedAttempts, []byte("0"))

	if g.recorder != nil {
		g.recorder.AuthSuccess(method)
	}
	return nil
}

// registerFailureLocked increments and persists the failure counter and
// trips the sticky lockout at the threshold (lock held)
func (g *Guard) registerFailureLocked(method, reason string) {
	g.failedAttempts++
	g.store.Write(keyFailedAttempts, []byte(strconv.Itoa(g.failedAttempts)))

	if g.failedAttempts >= MaxFailedAttempts {
		g.state = StateLockedOut
		g.store.Write(keyLockout, []byte("1"))
		g.wipeDEKLocked()
	}

	if g.recorder != nil {
		g.recorder.AuthFailure(method, g.failedAttempts, reason)
	}
}

// checkActiveLocked applies the lazy timeout check (lock held)
func (g *Guard) checkActiveLocked() error {
	switch g.state {
	case StateActive:
		if g.expireIfIdleLocked() {
			return ErrSessionExpired
		}
		return nil
	case StateTimedOut:
		return ErrSessionExpired
	case StateLockedOut:
		return ErrLockedOut
	default:
		return ErrNotActive
	}
}

// expireIfIdleLocked transitions Active -> TimedOut when the inactivity
// window has elapsed, wiping the DEK before control returns (lock held)
func (g *Guard) expireIfIdleLocked() bool {
	if g.now().Sub(g.lastActivity) <= g.timeout {
		return false
	}
	g.wipeDEKLocked()
	g.state = StateTimedOut
	return true
}

// wipeDEKLocked zeroes and drops the held DEK (lock held)
func (g *Guard) wipeDEKLocked() {
	if g.dek != nil {
		crypto.Wipe(g.dek)
		g.dek = nil
	}
}

// validPIN reports whether pin is exactly PINLength ASCII digits
func validPIN(pin string) bool {
	if len(pin) != PINLength {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

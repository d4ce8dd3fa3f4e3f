// Package vault implements the password-unlocked document store (C2): a
// single encrypted-at-rest JSON document holding the container's identity,
// integrations, capability grants, and ceilings, guarded by one coarse
// mutex and a cooperative session timer.
package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/vaultd/pkg/cryptoprim"
)

// SessionDuration is how long the vault stays unlocked after the last
// ExtendSession call before it locks itself automatically.
const SessionDuration = 30 * time.Minute

var (
	// ErrLocked is returned by any content operation attempted while the
	// vault is locked.
	ErrLocked = errors.New("vault: locked")
	// ErrAlreadyInitialized is returned by Initialize if a vault file
	// already exists at the configured base directory.
	ErrAlreadyInitialized = errors.New("vault: already initialized")
	// ErrNotInitialized is returned by Unlock if no vault file exists yet.
	ErrNotInitialized = errors.New("vault: not initialized")
	// ErrWrongPassword is returned by Unlock when the AEAD tag check fails.
	ErrWrongPassword = errors.New("vault: wrong password")
)

// Status is the read-only snapshot returned by Vault.Status.
type Status struct {
	Initialized  bool
	Unlocked     bool
	SessionEndAt time.Time
}

// Vault is the password-unlocked document store. All content access goes
// through the single mutex below: one writer lock, no finer-grained
// locking, matching the coarse concurrency model this package targets.
type Vault struct {
	mu sync.Mutex

	baseDir string
	scryptN int // overridable only via NewTestVault

	doc    *Document
	key    []byte // nil when locked
	salt   []byte
	locked bool

	sessionTimer *time.Timer
	sessionEnd   time.Time
}

// New returns a Vault rooted at baseDir, using the production scrypt cost.
func New(baseDir string) *Vault {
	return &Vault{
		baseDir: baseDir,
		scryptN: cryptoprim.ScryptN,
		locked:  true,
	}
}

// NewTestVault returns a Vault rooted at baseDir with a reduced scrypt cost,
// for use only by tests that would otherwise pay the full KDF cost on every
// run. Production callers must use New.
func NewTestVault(baseDir string, scryptN int) *Vault {
	return &Vault{
		baseDir: baseDir,
		scryptN: scryptN,
		locked:  true,
	}
}

// Initialize creates a brand-new vault document, seals it under password,
// and leaves the vault unlocked with a fresh session. Fails if a vault
// already exists at baseDir.
func (v *Vault) Initialize(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if envelopeExists(v.baseDir) {
		return ErrAlreadyInitialized
	}

	signingPub, signingPriv, err := cryptoprim.GenerateSigningKeypair()
	if err != nil {
		return fmt.Errorf("vault: generate signing keypair: %w", err)
	}
	agreementPriv, err := cryptoprim.GenerateAgreementKeypair()
	if err != nil {
		return fmt.Errorf("vault: generate agreement keypair: %w", err)
	}

	fp := cryptoprim.Fingerprint(signingPub)
	doc := NewDocument()
	doc.Identity = Identity{
		Current: VersionedIdentity{
			Version:        1,
			KeyID:          fmt.Sprintf("%x", fp),
			SigningPub:     signingPub,
			SigningPriv:    signingPriv,
			EncryptionPub:  agreementPriv.PublicKey().Bytes(),
			EncryptionPriv: agreementPriv.Bytes(),
			CreatedAt:      time.Now().UTC(),
		},
	}

	salt, err := cryptoprim.RandomSalt(16)
	if err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	key, err := cryptoprim.DeriveKeyFromPassword(password, salt, v.scryptN)
	if err != nil {
		return fmt.Errorf("vault: derive key: %w", err)
	}

	if err := sealDocument(v.baseDir, doc, key, salt, v.scryptN); err != nil {
		cryptoprim.Zeroize(key)
		return err
	}

	v.doc = doc
	v.key = key
	v.salt = salt
	v.locked = false
	v.resetSessionTimerLocked()
	return nil
}

// Unlock decrypts the on-disk vault with password and starts a new session.
// A wrong password returns ErrWrongPassword with no other observable
// side effect.
func (v *Vault) Unlock(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !envelopeExists(v.baseDir) {
		return ErrNotInitialized
	}
	env, err := openEnvelope(v.baseDir)
	if err != nil {
		return err
	}
	doc, key, ok, err := unsealDocument(env, password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}

	salt, err := decodeSalt(env)
	if err != nil {
		return err
	}

	v.doc = doc
	v.key = key
	v.salt = salt
	v.locked = false
	v.resetSessionTimerLocked()
	return nil
}

// UnlockWithKey unlocks the vault given an already-derived key (used when a
// caller has cached the scrypt output to skip the KDF cost, e.g. CLI
// session handoff). The key must match the on-disk salt/cost or this
// returns ErrWrongPassword.
func (v *Vault) UnlockWithKey(key []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !envelopeExists(v.baseDir) {
		return ErrNotInitialized
	}
	env, err := openEnvelope(v.baseDir)
	if err != nil {
		return err
	}
	doc, ok, err := unsealWithKey(env, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}
	salt, err := decodeSalt(env)
	if err != nil {
		return err
	}

	v.doc = doc
	v.key = append([]byte(nil), key...)
	v.salt = salt
	v.locked = false
	v.resetSessionTimerLocked()
	return nil
}

// Lock zeroizes the in-memory key and drops the decrypted document, ending
// the session immediately. Safe to call when already locked.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
}

// lockLocked performs the actual lock transition; caller must hold v.mu.
func (v *Vault) lockLocked() {
	if v.key != nil {
		cryptoprim.Zeroize(v.key)
	}
	v.key = nil
	v.doc = nil
	v.locked = true
	if v.sessionTimer != nil {
		v.sessionTimer.Stop()
		v.sessionTimer = nil
	}
	v.sessionEnd = time.Time{}
}

// ExtendSession resets the 30-minute session timer. Returns ErrLocked if
// the vault is not currently unlocked.
func (v *Vault) ExtendSession() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	v.resetSessionTimerLocked()
	return nil
}

// resetSessionTimerLocked (re)arms the session timer; caller must hold v.mu.
func (v *Vault) resetSessionTimerLocked() {
	if v.sessionTimer != nil {
		v.sessionTimer.Stop()
	}
	v.sessionEnd = time.Now().Add(SessionDuration)
	v.sessionTimer = time.AfterFunc(SessionDuration, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		// Only lock if nobody extended the session in the meantime.
		if !v.locked && time.Now().After(v.sessionEnd) {
			v.lockLocked()
		}
	})
}

// RotateEncryptionKey re-derives the at-rest key from a new password and
// re-seals the document under a fresh salt. Requires the vault to be
// unlocked; does not affect the Ed25519/X25519 identity (see package
// identity for key rotation).
func (v *Vault) RotateEncryptionKey(newPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}

	salt, err := cryptoprim.RandomSalt(16)
	if err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	newKey, err := cryptoprim.DeriveKeyFromPassword(newPassword, salt, v.scryptN)
	if err != nil {
		return fmt.Errorf("vault: derive key: %w", err)
	}
	if err := sealDocument(v.baseDir, v.doc, newKey, salt, v.scryptN); err != nil {
		cryptoprim.Zeroize(newKey)
		return err
	}

	cryptoprim.Zeroize(v.key)
	v.key = newKey
	v.salt = salt
	return nil
}

// Save re-encrypts and persists the current in-memory document under the
// existing key. Sibling packages (identity, capability, snapshot, ceiling)
// mutate the document through WithDocument, which persists it through the
// same path without a separate Save call.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saveLocked()
}

func (v *Vault) saveLocked() error {
	if v.locked {
		return ErrLocked
	}
	return sealDocument(v.baseDir, v.doc, v.key, v.salt, v.scryptN)
}

// WithDocument runs fn with exclusive access to the live document, then
// persists it if fn returns a nil error. fn must not retain doc beyond the
// call. This is the only sanctioned way for other packages to read or
// mutate vault content.
func (v *Vault) WithDocument(fn func(doc *Document) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	if err := fn(v.doc); err != nil {
		return err
	}
	return v.saveLocked()
}

// ViewDocument runs fn with read access to the live document without
// triggering a re-save; use for queries that do not mutate state.
func (v *Vault) ViewDocument(fn func(doc *Document)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	fn(v.doc)
	return nil
}

// Status reports whether the vault is initialized, unlocked, and (if
// unlocked) when the current session ends.
func (v *Vault) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := Status{
		Initialized: envelopeExists(v.baseDir),
		Unlocked:    !v.locked,
	}
	if !v.locked {
		s.SessionEndAt = v.sessionEnd
	}
	return s
}

func decodeSalt(env *envelope) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(env.KDF.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: decode salt: %w", err)
	}
	return salt, nil
}

// Package identity implements the versioned signing/encryption identity and
// its rotation state machine (C3): Steady, Transitioning, Complete.
package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/vaultd/pkg/cryptoprim"
	"github.com/cuemby/vaultd/pkg/vault"
)

// ErrNoTransitionInProgress is returned by CompleteTransition and
// CreateRotationNotification when the identity is in the Steady state.
var ErrNoTransitionInProgress = errors.New("identity: no transition in progress")

// State is the rotation state machine's current phase.
type State int

const (
	Steady State = iota
	Transitioning
	Complete
)

func (s State) String() string {
	switch s {
	case Steady:
		return "steady"
	case Transitioning:
		return "transitioning"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// CurrentState derives the rotation state from an Identity record. It
// returns only Steady or Transitioning: completeTransitionLocked moves a
// Transitioning identity straight back to Steady, and no function in this
// package returns Complete.
func CurrentState(id *vault.Identity) State {
	if id.Previous == nil || id.TransitionEndsAt == nil {
		return Steady
	}
	return Transitioning
}

// RotateSigningKey advances the identity from Steady (or re-triggers from
// Transitioning) to Transitioning: it mints a new VersionedIdentity, moves
// the current one to previous, appends an ArchivedKey record, and sets the
// transition window.
func RotateSigningKey(v *vault.Vault, validFor time.Duration, reason string) error {
	return v.WithDocument(func(doc *vault.Document) error {
		maybeCompleteTransitionLocked(doc)

		oldCurrent := doc.Identity.Current

		signingPub, signingPriv, err := cryptoprim.GenerateSigningKeypair()
		if err != nil {
			return fmt.Errorf("identity: generate signing keypair: %w", err)
		}
		agreementPriv, err := cryptoprim.GenerateAgreementKeypair()
		if err != nil {
			return fmt.Errorf("identity: generate agreement keypair: %w", err)
		}
		fp := cryptoprim.Fingerprint(signingPub)

		newCurrent := vault.VersionedIdentity{
			Version:        oldCurrent.Version + 1,
			KeyID:          fmt.Sprintf("%x", fp),
			SigningPub:     signingPub,
			SigningPriv:    signingPriv,
			EncryptionPub:  agreementPriv.PublicKey().Bytes(),
			EncryptionPriv: agreementPriv.Bytes(),
			CreatedAt:      time.Now().UTC(),
		}

		ends := time.Now().Add(validFor)
		doc.Identity.Archived = append(doc.Identity.Archived, vault.ArchivedKey{
			Key:              oldCurrent,
			Reason:           reason,
			ArchivedAt:       time.Now().UTC(),
			TransitionActive: true,
		})
		doc.Identity.Previous = &oldCurrent
		doc.Identity.Current = newCurrent
		doc.Identity.TransitionEndsAt = &ends
		return nil
	})
}

// CompleteTransition ends an in-progress transition early: previous is
// cleared and its archived-key entry is marked transition_active=false.
// Fails with ErrNoTransitionInProgress if the identity is in Steady.
func CompleteTransition(v *vault.Vault) error {
	return v.WithDocument(func(doc *vault.Document) error {
		if CurrentState(&doc.Identity) != Transitioning {
			return ErrNoTransitionInProgress
		}
		completeTransitionLocked(doc)
		return nil
	})
}

// maybeCompleteTransitionLocked auto-completes an expired transition; it is
// called at the top of every identity operation per spec §4.3's "automatic
// on first operation after transition_ends_at" rule.
func maybeCompleteTransitionLocked(doc *vault.Document) {
	if CurrentState(&doc.Identity) != Transitioning {
		return
	}
	if time.Now().After(*doc.Identity.TransitionEndsAt) {
		completeTransitionLocked(doc)
	}
}

func completeTransitionLocked(doc *vault.Document) {
	for i := range doc.Identity.Archived {
		doc.Identity.Archived[i].TransitionActive = false
	}
	doc.Identity.Previous = nil
	doc.Identity.TransitionEndsAt = nil
}

// VerifyWithAnyValidKey checks sig against data under whichever of
// current/previous matches signerPub, auto-completing an expired
// transition first. Returns the key version that verified.
func VerifyWithAnyValidKey(v *vault.Vault, data, sig, signerPub []byte) (version int, err error) {
	err = v.WithDocument(func(doc *vault.Document) error {
		maybeCompleteTransitionLocked(doc)

		if bytesEqual(signerPub, doc.Identity.Current.SigningPub) {
			if verr := cryptoprim.Verify(ed25519.PublicKey(signerPub), data, sig); verr != nil {
				return verr
			}
			version = doc.Identity.Current.Version
			return nil
		}
		if doc.Identity.Previous != nil && bytesEqual(signerPub, doc.Identity.Previous.SigningPub) {
			if verr := cryptoprim.Verify(ed25519.PublicKey(signerPub), data, sig); verr != nil {
				return verr
			}
			version = doc.Identity.Previous.Version
			return nil
		}
		return cryptoprim.ErrBadSignature
	})
	return version, err
}

// CapabilitiesBelow returns the IDs of non-revoked, non-expired capability
// grants whose recorded key version is below the identity's current
// version — the reissue candidate set.
func CapabilitiesBelow(doc *vault.Document) []string {
	current := doc.Identity.Current.Version
	var ids []string
	now := time.Now()
	for id, g := range doc.Grants {
		if g.Revoked || now.After(g.Expires) {
			continue
		}
		if v, ok := doc.CapabilityVersion[id]; ok && v < current {
			ids = append(ids, id)
		}
	}
	return ids
}

// RotationNotification is the signed broadcast contract sent to subjects
// and the relay while a rotation's transition window is open.
type RotationNotification struct {
	Type                  string    `json:"type"`
	OldKeyID              string    `json:"old_key_id"`
	NewKeyID              string    `json:"new_key_id"`
	NewEncryptionPub      []byte    `json:"new_encryption_pub"`
	TransitionEndsAt      time.Time `json:"transition_ends_at"`
	AffectedCapabilityIDs []string  `json:"affected_capability_ids"`
	SignatureByNewKey     []byte    `json:"signature_by_new_key"`
}

// notificationSigningInput recomputes the exact bytes signed/verified for a
// RotationNotification, excluding the signature field itself.
func notificationSigningInput(n *RotationNotification) ([]byte, error) {
	type signed struct {
		Type                  string    `json:"type"`
		OldKeyID              string    `json:"old_key_id"`
		NewKeyID              string    `json:"new_key_id"`
		NewEncryptionPub      []byte    `json:"new_encryption_pub"`
		TransitionEndsAt      time.Time `json:"transition_ends_at"`
		AffectedCapabilityIDs []string  `json:"affected_capability_ids"`
	}
	return json.Marshal(signed{
		Type:                  n.Type,
		OldKeyID:              n.OldKeyID,
		NewKeyID:              n.NewKeyID,
		NewEncryptionPub:      n.NewEncryptionPub,
		TransitionEndsAt:      n.TransitionEndsAt,
		AffectedCapabilityIDs: n.AffectedCapabilityIDs,
	})
}

// CreateRotationNotification builds and signs a RotationNotification for
// the identity's current in-progress transition. Fails with
// ErrNoTransitionInProgress in Steady state.
func CreateRotationNotification(v *vault.Vault, affectedCapabilityIDs []string) (*RotationNotification, error) {
	var out *RotationNotification
	err := v.WithDocument(func(doc *vault.Document) error {
		maybeCompleteTransitionLocked(doc)
		if CurrentState(&doc.Identity) != Transitioning {
			return ErrNoTransitionInProgress
		}

		n := &RotationNotification{
			Type:                  "key_rotation",
			OldKeyID:              doc.Identity.Previous.KeyID,
			NewKeyID:              doc.Identity.Current.KeyID,
			NewEncryptionPub:      doc.Identity.Current.EncryptionPub,
			TransitionEndsAt:      *doc.Identity.TransitionEndsAt,
			AffectedCapabilityIDs: affectedCapabilityIDs,
		}
		input, err := notificationSigningInput(n)
		if err != nil {
			return fmt.Errorf("identity: marshal notification: %w", err)
		}
		n.SignatureByNewKey = cryptoprim.Sign(ed25519.PrivateKey(doc.Identity.Current.SigningPriv), input)
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyRotationNotification is a pure function: it recomputes the signing
// input and checks SignatureByNewKey against the embedded new key. It does
// not touch any vault state.
func VerifyRotationNotification(n *RotationNotification, newSigningPub []byte) error {
	input, err := notificationSigningInput(n)
	if err != nil {
		return fmt.Errorf("identity: marshal notification: %w", err)
	}
	return cryptoprim.Verify(ed25519.PublicKey(newSigningPub), input, n.SignatureByNewKey)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

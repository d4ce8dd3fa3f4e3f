// Package snapshot implements the cached-snapshot engine (C5): periodic,
// receiver-encrypted copies of integration data for CACHED-tier capabilities
// whose subject cannot reach the vault live, pushed to the relay and pulled
// back down for offline access.
package snapshot

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"

	"github.com/cuemby/vaultd/pkg/audit"
	"github.com/cuemby/vaultd/pkg/cryptoprim"
	"github.com/cuemby/vaultd/pkg/metrics"
	"github.com/cuemby/vaultd/pkg/vault"
)

var (
	ErrNotFound      = errors.New("snapshot: capability grant not found")
	ErrNotCachedTier = errors.New("snapshot: capability is not CACHED tier")
	ErrNoCachedData  = errors.New("snapshot: no cached data available")
	ErrBadSignature  = errors.New("snapshot: signature verification failed")
)

// DefaultRefreshIntervalSeconds is used when a grant doesn't override
// CacheRefreshInterval.
const DefaultRefreshIntervalSeconds = 3600

// DefaultRefreshLoopPeriod is the background refresh loop's polling period.
const DefaultRefreshLoopPeriod = 5 * time.Minute

// CreateCachedSnapshot builds a fresh receiver-encrypted snapshot of the
// integration data behind capabilityID's grant: ephemeral X25519 key,
// ECDH+SHA-256 derivation against the subject's encryption key, AES-256-GCM
// seal, and a detached signature over capability_id||ciphertext||nonce
// under the current signing identity (see signingInput). The result is appended to the pending
// push queue and grant.LastSnapshotAt is updated. log, if non-nil, receives
// a snapshot.create record.
func CreateCachedSnapshot(v *vault.Vault, capabilityID string, log *audit.Logger) error {
	err := v.WithDocument(func(doc *vault.Document) error {
		grant, ok := doc.Grants[capabilityID]
		if !ok {
			return ErrNotFound
		}
		if grant.Tier != vault.TierCached {
			return ErrNotCachedTier
		}
		if len(grant.SubjectEncryptionPub) == 0 {
			return ErrNoCachedData
		}
		integ, ok := doc.Integrations[grant.Resource]
		if !ok {
			return ErrNotFound
		}

		payload, err := json.Marshal(integ)
		if err != nil {
			return err
		}

		ephemeral, err := cryptoprim.GenerateAgreementKeypair()
		if err != nil {
			return err
		}
		key, err := cryptoprim.DeriveSnapshotKey(ephemeral, grant.SubjectEncryptionPub)
		if err != nil {
			return err
		}
		nonce, ciphertext, err := cryptoprim.Seal(key, payload, nil)
		cryptoprim.Zeroize(key)
		if err != nil {
			return err
		}

		body := ciphertext[:len(ciphertext)-cryptoprim.AEADTagSize]
		tag := ciphertext[len(ciphertext)-cryptoprim.AEADTagSize:]
		ephemeralPub := ephemeral.PublicKey().Bytes()

		sig := cryptoprim.Sign(ed25519.PrivateKey(doc.Identity.Current.SigningPriv), signingInput(capabilityID, body, nonce))

		now := time.Now().UTC()
		interval := DefaultRefreshIntervalSeconds
		if grant.CacheRefreshInterval != nil {
			interval = *grant.CacheRefreshInterval
		}

		doc.PendingSnapshots = append(doc.PendingSnapshots, &vault.CachedSnapshot{
			CapabilityID:        capabilityID,
			EncryptedData:       body,
			EphemeralPub:        ephemeralPub,
			Nonce:               nonce,
			Tag:                 tag,
			Signature:           sig,
			IssuerSigningPub:    doc.Identity.Current.SigningPub,
			RecipientEncryption: grant.SubjectEncryptionPub,
			CreatedAt:           now,
			ExpiresAt:           now.Add(time.Duration(interval) * time.Second),
		})
		grant.LastSnapshotAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	metrics.SnapshotsCreatedTotal.Inc()
	log.LogJSON(capabilityID, "snapshot.create", "", nil)
	return nil
}

// signingInput covers capability_id, the encrypted body, and the nonce —
// deliberately not ephemeral_pub or the AEAD tag, so that tampering either
// of those surfaces as a decrypt failure rather than a signature failure
// (matching the tamper-mapping end-to-end scenario pins per field).
func signingInput(capabilityID string, body, nonce []byte) []byte {
	buf := make([]byte, 0, len(capabilityID)+len(body)+len(nonce))
	buf = append(buf, []byte(capabilityID)...)
	buf = append(buf, body...)
	buf = append(buf, nonce...)
	return buf
}

// RefreshDue returns the IDs of non-revoked, non-expired CACHED grants whose
// last snapshot is missing or older than their refresh interval.
func RefreshDue(doc *vault.Document, now time.Time) []string {
	var due []string
	for id, g := range doc.Grants {
		if g.Tier != vault.TierCached || g.Revoked {
			continue
		}
		if now.After(g.Expires) {
			continue
		}
		interval := DefaultRefreshIntervalSeconds
		if g.CacheRefreshInterval != nil {
			interval = *g.CacheRefreshInterval
		}
		if g.LastSnapshotAt == nil || now.Sub(*g.LastSnapshotAt) >= time.Duration(interval)*time.Second {
			due = append(due, id)
		}
	}
	return due
}

// Pusher is the subset of the relay client contract this package needs to
// flush pending snapshots. Declared locally, mirroring pkg/capability's
// RelayNotifier, so this package never imports pkg/relay.
type Pusher interface {
	StoreSnapshot(ctx context.Context, snap *vault.CachedSnapshot) error
}

// PushPendingToRelay attempts to push every queued snapshot. Snapshots that
// push successfully are removed from the queue; failures are retained for
// the next attempt. log, if non-nil, receives one snapshot.push record per
// snapshot successfully pushed.
func PushPendingToRelay(ctx context.Context, v *vault.Vault, pusher Pusher, log *audit.Logger) (pushed, remaining int, err error) {
	var pushedIDs []string
	err = v.WithDocument(func(doc *vault.Document) error {
		kept := doc.PendingSnapshots[:0]
		for _, snap := range doc.PendingSnapshots {
			if perr := pusher.StoreSnapshot(ctx, snap); perr != nil {
				kept = append(kept, snap)
				metrics.SnapshotPushFailuresTotal.Inc()
				continue
			}
			pushed++
			pushedIDs = append(pushedIDs, snap.CapabilityID)
		}
		doc.PendingSnapshots = kept
		remaining = len(kept)
		return nil
	})
	metrics.PendingSnapshotsQueued.Set(float64(remaining))
	for _, id := range pushedIDs {
		log.LogJSON(id, "snapshot.push", "", nil)
	}
	return pushed, remaining, err
}

// RefreshLoop periodically snapshots every grant RefreshDue names and
// flushes the pending queue to the relay. It skips a tick entirely while
// the vault is locked rather than erroring.
type RefreshLoop struct {
	v      *vault.Vault
	pusher Pusher
	period time.Duration
	stopCh chan struct{}

	// Audit, if set before Start, receives snapshot.create/snapshot.push
	// records for every tick.
	Audit *audit.Logger
}

// NewRefreshLoop creates a loop that runs on DefaultRefreshLoopPeriod.
func NewRefreshLoop(v *vault.Vault, pusher Pusher) *RefreshLoop {
	return &RefreshLoop{v: v, pusher: pusher, period: DefaultRefreshLoopPeriod, stopCh: make(chan struct{})}
}

// Start begins the loop on a background goroutine.
func (r *RefreshLoop) Start(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.tick(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop.
func (r *RefreshLoop) Stop() {
	close(r.stopCh)
}

func (r *RefreshLoop) tick(ctx context.Context) {
	if !r.v.Status().Unlocked {
		return
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotRefreshDuration)

	var due []string
	_ = r.v.ViewDocument(func(doc *vault.Document) {
		due = RefreshDue(doc, time.Now().UTC())
	})
	for _, id := range due {
		_ = CreateCachedSnapshot(r.v, id, r.Audit)
	}
	if r.pusher != nil {
		_, _, _ = PushPendingToRelay(ctx, r.v, r.pusher, r.Audit)
	}
}

// VerifyAndDecrypt checks snap's signature under its embedded issuer signing
// key, derives the AES key via ECDH against recipientPriv, and decrypts the
// payload. It never trusts an unauthenticated issuer key: callers must
// additionally compare IssuerSigningPub against the identity they originally
// received the capability from.
func VerifyAndDecrypt(snap *vault.CachedSnapshot, recipientPriv []byte) ([]byte, error) {
	if err := cryptoprim.Verify(snap.IssuerSigningPub, signingInput(snap.CapabilityID, snap.EncryptedData, snap.Nonce), snap.Signature); err != nil {
		return nil, ErrBadSignature
	}
	ciphertext := append(append([]byte{}, snap.EncryptedData...), snap.Tag...)

	priv, err := cryptoprim.LoadAgreementPrivateKey(recipientPriv)
	if err != nil {
		return nil, err
	}
	key, err := cryptoprim.DeriveSnapshotKey(priv, snap.EphemeralPub)
	if err != nil {
		return nil, err
	}
	plaintext, err := cryptoprim.Open(key, snap.Nonce, ciphertext, nil)
	cryptoprim.Zeroize(key)
	return plaintext, err
}

// StoreReceivedSnapshot decrypts snap with the recipient vault's own
// encryption key and records it against the matching ReceivedCapability, for
// later offline access via AccessCached.
func StoreReceivedSnapshot(v *vault.Vault, snap *vault.CachedSnapshot) error {
	return v.WithDocument(func(doc *vault.Document) error {
		rc, ok := doc.ReceivedCaps[snap.CapabilityID]
		if !ok {
			return ErrNotFound
		}
		plaintext, err := VerifyAndDecrypt(snap, doc.Identity.Current.EncryptionPriv)
		if err != nil {
			return err
		}
		rc.CachedSnapshot = &vault.CachedData{
			DataJSON:  plaintext,
			UpdatedAt: time.Now().UTC(),
		}
		return nil
	})
}

// LiveFetch is supplied by the caller to attempt a live round trip (e.g. via
// the relay executing the capability against the issuer) before falling
// back to cache.
type LiveFetch func(ctx context.Context) (json.RawMessage, error)

// AccessCached implements the live-then-cache-then-NoCachedData fallback: it
// tries live first when a LiveFetch is supplied and succeeds, otherwise
// falls back to the last stored cached snapshot, otherwise fails
// ErrNoCachedData.
func AccessCached(ctx context.Context, v *vault.Vault, capabilityID string, live LiveFetch) (data json.RawMessage, fromCache bool, err error) {
	if live != nil {
		if d, lerr := live(ctx); lerr == nil {
			return d, false, nil
		}
	}

	var lookupErr error
	viewErr := v.ViewDocument(func(doc *vault.Document) {
		rc, ok := doc.ReceivedCaps[capabilityID]
		if !ok || rc.CachedSnapshot == nil {
			lookupErr = ErrNoCachedData
			return
		}
		data = json.RawMessage(rc.CachedSnapshot.DataJSON)
		fromCache = true
	})
	if viewErr != nil {
		return nil, false, viewErr
	}
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if data == nil {
		return nil, false, ErrNoCachedData
	}
	return data, fromCache, nil
}

package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// SigningKeySize is the raw size of an Ed25519 public or seed key.
	SigningKeySize = ed25519.PublicKeySize
	// SignatureSize is the size of a detached Ed25519 signature.
	SignatureSize = ed25519.SignatureSize
	// AgreementKeySize is the raw size of an X25519 public key.
	AgreementKeySize = 32
	// AEADKeySize is the key size required by AES-256-GCM.
	AEADKeySize = 32
	// AEADNonceSize is the random nonce size used for every encryption.
	AEADNonceSize = 12
	// AEADTagSize is the GCM authentication tag size.
	AEADTagSize = 16

	// ScryptN is the production scrypt cost parameter (2^16). Tests may
	// override this only through an explicit hook (see vault.NewTestVault),
	// never by passing a different constant at the call site.
	ScryptN = 1 << 16
	ScryptR = 8
	ScryptP = 1

	snapshotKDFLabel = "ocmt-cached-snapshot-v1"
)

// GenerateSigningKeypair creates a new Ed25519 keypair.
func GenerateSigningKeypair() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return ed25519.GenerateKey(rand.Reader)
}

// GenerateAgreementKeypair creates a new X25519 keypair.
func GenerateAgreementKeypair() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// LoadAgreementPrivateKey reconstructs an X25519 private key from the raw
// scalar bytes stored in a VersionedIdentity, for use in ECDH/DeriveSnapshotKey.
func LoadAgreementPrivateKey(raw []byte) (*ecdh.PrivateKey, error) {
	return ecdh.X25519().NewPrivateKey(raw)
}

// Sign produces a deterministic 64-byte detached Ed25519 signature over data.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify checks a detached Ed25519 signature. A signature of any length
// other than 64 bytes is rejected without panicking.
func Verify(pub ed25519.PublicKey, data, sig []byte) error {
	if len(sig) != SignatureSize {
		return ErrBadSignature
	}
	if len(pub) != SigningKeySize {
		return ErrBadKeyLength
	}
	if !ed25519.Verify(pub, data, sig) {
		return ErrBadSignature
	}
	return nil
}

// Seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
// Returns the nonce and the ciphertext-with-appended-tag separately so
// callers can lay them out per their own wire format.
func Seal(key, plaintext, additionalData []byte) (nonce, ciphertext []byte, err error) {
	if len(key) != AEADKeySize {
		return nil, nil, ErrBadKeyLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, additionalData)
	return nonce, ciphertext, nil
}

// Open decrypts data sealed by Seal. Never returns the partial plaintext on
// failure; any failure collapses to ErrDecryptFailed.
func Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(key) != AEADKeySize {
		return nil, ErrBadKeyLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecryptFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// DeriveKeyFromPassword derives a 32-byte AES-256 key from a password and
// salt using scrypt with the given cost parameter N (production callers
// must pass ScryptN; only test code may pass a smaller value, via the
// explicit hook in package vault).
func DeriveKeyFromPassword(password string, salt []byte, n int) ([]byte, error) {
	return scrypt.Key([]byte(password), salt, n, ScryptR, ScryptP, AEADKeySize)
}

// RandomSalt returns a fresh random salt for DeriveKeyFromPassword.
func RandomSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("cryptoprim: generate salt: %w", err)
	}
	return salt, nil
}

// ECDH performs the X25519 Diffie-Hellman agreement.
func ECDH(priv *ecdh.PrivateKey, peerPub []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		return nil, ErrBadKeyLength
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: ecdh: %w", err)
	}
	return shared, nil
}

// DeriveSnapshotKey derives the AES-256 key used to encrypt a cached
// snapshot for a recipient: SHA-256(ECDH(ephemeral, recipient) || label).
func DeriveSnapshotKey(ephemeral *ecdh.PrivateKey, recipientPub []byte) ([]byte, error) {
	shared, err := ECDH(ephemeral, recipientPub)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(shared)
	h.Write([]byte(snapshotKDFLabel))
	return h.Sum(nil), nil
}

// Fingerprint returns a 16-byte truncated SHA-256 digest of a signing
// public key, used as the key_id.
func Fingerprint(signingPub []byte) [16]byte {
	sum := sha256.Sum256(signingPub)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// Zeroize overwrites buf with random bytes, then zeros it, so no later
// observer (GC scan, core dump) can recover the prior contents from this
// buffer. Called on every vault-key release path, including lock().
func Zeroize(buf []byte) {
	if len(buf) == 0 {
		return
	}
	_, _ = io.ReadFull(rand.Reader, buf)
	for i := range buf {
		buf[i] = 0
	}
}

// ed25519SPKIPrefix and x25519SPKIPrefix are the fixed 12-byte ASN.1
// prefixes used to reconstruct an SPKI-DER public key from a raw key,
// per the algorithm OIDs for Ed25519 and X25519.
var (
	ed25519SPKIPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}
	x25519SPKIPrefix  = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x6e, 0x03, 0x21, 0x00}
)

// Curve identifies which SPKI prefix to use in EncodeSPKI.
type Curve int

const (
	CurveEd25519 Curve = iota
	CurveX25519
)

// EncodeSPKI reconstructs an SPKI-DER encoding of a raw 32-byte public key
// for the given curve, per the fixed prefixes in spec §6.
func EncodeSPKI(curve Curve, raw []byte) ([]byte, error) {
	if len(raw) != AgreementKeySize {
		return nil, ErrBadKeyLength
	}
	var prefix []byte
	switch curve {
	case CurveEd25519:
		prefix = ed25519SPKIPrefix
	case CurveX25519:
		prefix = x25519SPKIPrefix
	default:
		return nil, fmt.Errorf("cryptoprim: unknown curve %d", curve)
	}
	out := make([]byte, 0, len(prefix)+len(raw))
	out = append(out, prefix...)
	out = append(out, raw...)
	return out, nil
}

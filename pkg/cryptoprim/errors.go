package cryptoprim

import "errors"

// Sentinel errors for the fixed crypto suite. Callers branch on these with
// errors.Is; messages never describe which internal step failed beyond the
// kind itself (spec requirement: never leak why decryption failed).
var (
	// ErrBadKeyLength is returned when a key does not match the expected
	// size for its algorithm (32 bytes for Ed25519/X25519 raw keys).
	ErrBadKeyLength = errors.New("cryptoprim: bad key length")

	// ErrBadSignature is returned when a signature fails to verify, or has
	// a length other than 64 bytes.
	ErrBadSignature = errors.New("cryptoprim: bad signature")

	// ErrDecryptFailed is returned on any AEAD open failure (tag mismatch,
	// truncated ciphertext, wrong key). The caller cannot distinguish the
	// cause from the error alone.
	ErrDecryptFailed = errors.New("cryptoprim: decrypt failed")
)

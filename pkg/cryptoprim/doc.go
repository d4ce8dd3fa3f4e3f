/*
Package cryptoprim provides the fixed cryptographic suite used throughout
vaultd: Ed25519 signatures, X25519 key agreement, AES-256-GCM authenticated
encryption, and scrypt password-based key derivation.

# Suite

  - Signing: Ed25519, 64-byte detached signatures.
  - Key agreement: X25519 (crypto/ecdh).
  - Bulk encryption: AES-256-GCM, 96-bit random nonce, 128-bit tag.
  - Password KDF: scrypt, N=2^16, r=8, p=1, 32-byte output.
  - Cached-snapshot recipient key: SHA-256(ECDH(ephemeral, recipient) ||
    "ocmt-cached-snapshot-v1").

No cipher suite is pluggable; callers never choose an algorithm.
*/
package cryptoprim

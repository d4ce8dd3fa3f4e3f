package vault

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/vaultd/pkg/cryptoprim"
)

// envelopeVersion is the on-disk envelope format version (spec §6).
const envelopeVersion = 2

// envelopeFile is the vault's on-disk file name within its base directory.
const envelopeFile = "vault.json"

// kdfParams mirrors spec §6's "kdf" object, bit-exact.
type kdfParams struct {
	Algorithm string `json:"algorithm"`
	Salt      string `json:"salt"`
	N         int    `json:"n"`
	R         int    `json:"r"`
	P         int    `json:"p"`
}

// envelope is the bit-exact on-disk JSON shape described in spec §6.
type envelope struct {
	Version    int       `json:"version"`
	Algorithm  string    `json:"algorithm"`
	KDF        kdfParams `json:"kdf"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
	Tag        string    `json:"tag"`
}

// envelopePath returns the path to the vault file within baseDir.
func envelopePath(baseDir string) string {
	return filepath.Join(baseDir, envelopeFile)
}

// envelopeExists reports whether a vault file already exists in baseDir.
func envelopeExists(baseDir string) bool {
	_, err := os.Stat(envelopePath(baseDir))
	return err == nil
}

// sealDocument encrypts doc under key, wraps it in an envelope tagged with
// the given salt and scrypt cost, and writes it atomically to baseDir:
// write to a temp file in the same directory, fsync, then rename over the
// target. Directory is created with 0700, the file with 0600.
func sealDocument(baseDir string, doc *Document, key, salt []byte, scryptN int) error {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("vault: marshal document: %w", err)
	}

	nonce, ciphertext, err := cryptoprim.Seal(key, plaintext, nil)
	if err != nil {
		return fmt.Errorf("vault: seal: %w", err)
	}
	// AES-256-GCM appends the 16-byte tag to the ciphertext; split it out
	// so the on-disk shape matches spec §6 exactly.
	if len(ciphertext) < cryptoprim.AEADTagSize {
		return fmt.Errorf("vault: ciphertext shorter than tag size")
	}
	tagOffset := len(ciphertext) - cryptoprim.AEADTagSize
	body, tag := ciphertext[:tagOffset], ciphertext[tagOffset:]

	env := envelope{
		Version:   envelopeVersion,
		Algorithm: "aes-256-gcm",
		KDF: kdfParams{
			Algorithm: "scrypt",
			Salt:      base64.StdEncoding.EncodeToString(salt),
			N:         scryptN,
			R:         cryptoprim.ScryptR,
			P:         cryptoprim.ScryptP,
		},
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(body),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshal envelope: %w", err)
	}

	return atomicWrite(baseDir, envelopePath(baseDir), data)
}

// atomicWrite writes data to path via a temp file in dir followed by an
// fsync and rename, so a crash mid-write never leaves a torn envelope.
func atomicWrite(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("vault: create base dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("vault: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("vault: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("vault: rename into place: %w", err)
	}
	return nil
}

// openEnvelope reads and parses the on-disk envelope from baseDir without
// attempting to decrypt it.
func openEnvelope(baseDir string) (*envelope, error) {
	data, err := os.ReadFile(envelopePath(baseDir))
	if err != nil {
		return nil, fmt.Errorf("vault: read envelope: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("vault: parse envelope: %w", err)
	}
	return &env, nil
}

// unsealDocument decrypts env under a key derived from password using the
// envelope's own salt and scrypt cost, and returns the parsed document. A
// false success with no error means the AEAD tag check failed (bad
// password); per spec this must have no side effects.
func unsealDocument(env *envelope, password string) (doc *Document, key []byte, ok bool, err error) {
	salt, err := base64.StdEncoding.DecodeString(env.KDF.Salt)
	if err != nil {
		return nil, nil, false, fmt.Errorf("vault: decode salt: %w", err)
	}
	key, err = cryptoprim.DeriveKeyFromPassword(password, salt, env.KDF.N)
	if err != nil {
		return nil, nil, false, fmt.Errorf("vault: derive key: %w", err)
	}
	doc, ok, err = unsealWithKey(env, key)
	if err != nil || !ok {
		cryptoprim.Zeroize(key)
		return nil, nil, ok, err
	}
	return doc, key, true, nil
}

// unsealWithKey decrypts env using an already-derived key (used by
// UnlockWithKey and internally by unsealDocument).
func unsealWithKey(env *envelope, key []byte) (*Document, bool, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, false, fmt.Errorf("vault: decode nonce: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, false, fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, false, fmt.Errorf("vault: decode tag: %w", err)
	}

	plaintext, err := cryptoprim.Open(key, nonce, append(body, tag...), nil)
	if err != nil {
		return nil, false, nil // bad password / tampered envelope: no error, ok=false
	}

	var doc Document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, false, fmt.Errorf("vault: parse document: %w", err)
	}
	return &doc, true, nil
}

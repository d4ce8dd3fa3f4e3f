package capability

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/vaultd/pkg/cryptoprim"
)

// tokenVersion is the only token format version this package emits.
const tokenVersion = 1

// Constraints holds the token's optional execution limits.
type Constraints struct {
	MaxCalls *int `json:"maxCalls,omitempty"`
}

// Token is the self-describing capability token object (spec §4.4/§6). Its
// field order is the pinned canonical order: the same struct, marshaled
// with Sig cleared, is exactly the signing input — Go's encoder emits
// struct fields in declaration order, so this order IS the wire and
// signing order; there is no separate reordering step to get wrong.
type Token struct {
	V           int          `json:"v"`
	ID          string       `json:"id"`
	Iss         string       `json:"iss"`
	IssEnc      string       `json:"issEnc,omitempty"`
	Sub         string       `json:"sub"`
	SubEnc      string       `json:"subEnc,omitempty"`
	Resource    string       `json:"resource"`
	Scope       []string     `json:"scope"`
	Tier        string       `json:"tier"`
	Iat         int64        `json:"iat"`
	Exp         int64        `json:"exp"`
	Constraints *Constraints `json:"constraints,omitempty"`
	KeyVersion  int          `json:"keyVersion"`
	KeyID       string       `json:"keyId"`
	Sig         string       `json:"sig,omitempty"`
}

// signingInput returns the canonical bytes to sign/verify: the token with
// Sig cleared, marshaled in field-declaration order.
func signingInput(t Token) ([]byte, error) {
	t.Sig = ""
	return json.Marshal(t)
}

// sign fills in t.Sig given the issuer's Ed25519 private key.
func sign(t *Token, signingPriv []byte) error {
	input, err := signingInput(*t)
	if err != nil {
		return fmt.Errorf("capability: marshal signing input: %w", err)
	}
	sig := cryptoprim.Sign(ed25519.PrivateKey(signingPriv), input)
	t.Sig = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// verify checks t.Sig under issuerSigningPub (raw 32 bytes).
func verify(t Token, issuerSigningPub []byte) error {
	sig, err := base64.StdEncoding.DecodeString(t.Sig)
	if err != nil {
		return ErrMalformedToken
	}
	input, err := signingInput(t)
	if err != nil {
		return fmt.Errorf("capability: marshal signing input: %w", err)
	}
	if verr := cryptoprim.Verify(ed25519.PublicKey(issuerSigningPub), input, sig); verr != nil {
		return ErrBadSignature
	}
	return nil
}

// encodeToken renders t as the base64url string handed to callers.
func encodeToken(t Token) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("capability: marshal token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeToken parses a base64url token string back into a Token.
func decodeToken(s string) (Token, error) {
	var t Token
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, ErrMalformedToken
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, ErrMalformedToken
	}
	return t, nil
}

// isExpired reports whether t's exp (unix seconds) is not strictly after
// now: expiry is exclusive per spec §4.4 ("exp > now required").
func isExpired(t Token, now time.Time) bool {
	return !(t.Exp > now.Unix())
}

package cryptoprim

import (
	"bytes"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "ascii", data: []byte("hello capability")},
		{name: "unicode astral", data: []byte("𐍈 emoji 🔐 token")},
	}

	pub, priv, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig1 := Sign(priv, tt.data)
			sig2 := Sign(priv, tt.data)
			if !bytes.Equal(sig1, sig2) {
				t.Errorf("Sign() is not deterministic")
			}
			if len(sig1) != SignatureSize {
				t.Fatalf("Sign() length = %d, want %d", len(sig1), SignatureSize)
			}
			if err := Verify(pub, tt.data, sig1); err != nil {
				t.Errorf("Verify() error = %v, want nil", err)
			}
		})
	}
}

func TestVerifyRejectsBadSignatureLength(t *testing.T) {
	pub, _, _ := GenerateSigningKeypair()
	tests := []struct {
		name string
		sig  []byte
	}{
		{name: "empty", sig: []byte{}},
		{name: "too short", sig: make([]byte, 63)},
		{name: "too long", sig: make([]byte, 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Verify(pub, []byte("data"), tt.sig); err != ErrBadSignature {
				t.Errorf("Verify() error = %v, want ErrBadSignature", err)
			}
		})
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	pub, priv, _ := GenerateSigningKeypair()
	sig := Sign(priv, []byte("original"))
	if err := Verify(pub, []byte("tampered"), sig); err != ErrBadSignature {
		t.Errorf("Verify() error = %v, want ErrBadSignature", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, AEADKeySize)
	for i := range key {
		key[i] = byte(i)
	}

	tests := []struct {
		name      string
		plaintext []byte
		aad       []byte
	}{
		{name: "empty plaintext", plaintext: []byte{}, aad: nil},
		{name: "with aad", plaintext: []byte("secret data"), aad: []byte("capability-id")},
		{name: "unicode", plaintext: []byte("🔑 ünïcode"), aad: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce, ciphertext, err := Seal(key, tt.plaintext, tt.aad)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(nonce) != AEADNonceSize {
				t.Fatalf("nonce length = %d, want %d", len(nonce), AEADNonceSize)
			}
			plaintext, err := Open(key, nonce, ciphertext, tt.aad)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(plaintext, tt.plaintext) {
				t.Errorf("Open() = %q, want %q", plaintext, tt.plaintext)
			}
		})
	}
}

func TestSealNeverReusesNonce(t *testing.T) {
	key := make([]byte, AEADKeySize)
	nonce1, _, err := Seal(key, []byte("a"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	nonce2, _, err := Seal(key, []byte("a"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Equal(nonce1, nonce2) {
		t.Error("Seal() produced the same nonce twice")
	}
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	key := make([]byte, AEADKeySize)
	nonce, ciphertext, err := Seal(key, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	ciphertext[0] ^= 0xFF
	if _, err := Open(key, nonce, ciphertext, nil); err != ErrDecryptFailed {
		t.Errorf("Open() error = %v, want ErrDecryptFailed", err)
	}
}

func TestOpenFailsOnWrongKey(t *testing.T) {
	key := make([]byte, AEADKeySize)
	otherKey := make([]byte, AEADKeySize)
	otherKey[0] = 1
	nonce, ciphertext, err := Seal(key, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := Open(otherKey, nonce, ciphertext, nil); err != ErrDecryptFailed {
		t.Errorf("Open() error = %v, want ErrDecryptFailed", err)
	}
}

func TestDeriveKeyFromPasswordIsDeterministic(t *testing.T) {
	salt, err := RandomSalt(16)
	if err != nil {
		t.Fatalf("RandomSalt() error = %v", err)
	}
	// Use a small N here only because this is test code exercising the KDF
	// shape, not production key derivation.
	k1, err := DeriveKeyFromPassword("pw-0123456789abcdef", salt, 1<<14)
	if err != nil {
		t.Fatalf("DeriveKeyFromPassword() error = %v", err)
	}
	k2, err := DeriveKeyFromPassword("pw-0123456789abcdef", salt, 1<<14)
	if err != nil {
		t.Fatalf("DeriveKeyFromPassword() error = %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKeyFromPassword() not deterministic for same password/salt")
	}
	if len(k1) != AEADKeySize {
		t.Errorf("DeriveKeyFromPassword() length = %d, want %d", len(k1), AEADKeySize)
	}
}

func TestECDHAndSnapshotKeyAgreement(t *testing.T) {
	alice, err := GenerateAgreementKeypair()
	if err != nil {
		t.Fatalf("GenerateAgreementKeypair() error = %v", err)
	}
	bob, err := GenerateAgreementKeypair()
	if err != nil {
		t.Fatalf("GenerateAgreementKeypair() error = %v", err)
	}

	aliceKey, err := DeriveSnapshotKey(alice, bob.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("DeriveSnapshotKey() error = %v", err)
	}
	bobKey, err := DeriveSnapshotKey(bob, alice.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("DeriveSnapshotKey() error = %v", err)
	}
	if !bytes.Equal(aliceKey, bobKey) {
		t.Error("DeriveSnapshotKey() shared secrets do not match between peers")
	}
}

func TestFingerprintIsTruncatedDigest(t *testing.T) {
	pub, _, _ := GenerateSigningKeypair()
	fp := Fingerprint(pub)
	if len(fp) != 16 {
		t.Fatalf("Fingerprint() length = %d, want 16", len(fp))
	}
}

func TestZeroizeOverwritesBuffer(t *testing.T) {
	buf := bytes.Repeat([]byte{0xAB}, 32)
	Zeroize(buf)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("Zeroize() left byte %d = %x, want 0", i, b)
		}
	}
}

func TestEncodeSPKIRejectsBadLength(t *testing.T) {
	if _, err := EncodeSPKI(CurveEd25519, make([]byte, 10)); err != ErrBadKeyLength {
		t.Errorf("EncodeSPKI() error = %v, want ErrBadKeyLength", err)
	}
}

func TestEncodeSPKIPrefixes(t *testing.T) {
	raw := make([]byte, AgreementKeySize)
	ed, err := EncodeSPKI(CurveEd25519, raw)
	if err != nil {
		t.Fatalf("EncodeSPKI(Ed25519) error = %v", err)
	}
	x, err := EncodeSPKI(CurveX25519, raw)
	if err != nil {
		t.Fatalf("EncodeSPKI(X25519) error = %v", err)
	}
	if bytes.Equal(ed, x) {
		t.Error("EncodeSPKI() produced identical output for different curves")
	}
	if len(ed) != 12+AgreementKeySize {
		t.Errorf("EncodeSPKI() length = %d, want %d", len(ed), 12+AgreementKeySize)
	}
}

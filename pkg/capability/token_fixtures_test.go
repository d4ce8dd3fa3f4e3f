package capability

import (
	"reflect"
	"testing"
)

// TestSigningInputKeyOrderIsPinned locks down the canonical JSON key order
// for the capability token signing input. Any change to Token's field
// order is a wire-format break and must fail this test.
func TestSigningInputKeyOrderIsPinned(t *testing.T) {
	maxCalls := 5
	tok := Token{
		V:           1,
		ID:          "abc123",
		Iss:         "aXNzdWVyLXB1Yg==",
		IssEnc:      "aXNzdWVyLWVuYw==",
		Sub:         "c3ViamVjdC1wdWI=",
		SubEnc:      "c3ViamVjdC1lbmM=",
		Resource:    "github",
		Scope:       []string{"read", "list"},
		Tier:        "CACHED",
		Iat:         1700000000,
		Exp:         1700003600,
		Constraints: &Constraints{MaxCalls: &maxCalls},
		KeyVersion:  1,
		KeyID:       "deadbeef",
		Sig:         "should-be-dropped",
	}

	input, err := signingInput(tok)
	if err != nil {
		t.Fatalf("signingInput() error = %v", err)
	}

	const want = `{"v":1,"id":"abc123","iss":"aXNzdWVyLXB1Yg==","issEnc":"aXNzdWVyLWVuYw==","sub":"c3ViamVjdC1wdWI=","subEnc":"c3ViamVjdC1lbmM=","resource":"github","scope":["read","list"],"tier":"CACHED","iat":1700000000,"exp":1700003600,"constraints":{"maxCalls":5},"keyVersion":1,"keyId":"deadbeef"}`

	if string(input) != want {
		t.Fatalf("signingInput() =\n%s\nwant\n%s", input, want)
	}
}

// TestSigningInputOmitsOptionalFieldsWhenAbsent checks that a minimal
// LIVE-tier token (no issEnc, subEnc, or constraints) produces the shorter
// canonical form rather than emitting nulls or empty strings.
func TestSigningInputOmitsOptionalFieldsWhenAbsent(t *testing.T) {
	tok := Token{
		V:          1,
		ID:         "abc123",
		Iss:        "aXNzdWVyLXB1Yg==",
		Sub:        "c3ViamVjdC1wdWI=",
		Resource:   "github",
		Scope:      []string{"*"},
		Tier:       "LIVE",
		Iat:        1700000000,
		Exp:        1700003600,
		KeyVersion: 1,
		KeyID:      "deadbeef",
	}

	input, err := signingInput(tok)
	if err != nil {
		t.Fatalf("signingInput() error = %v", err)
	}

	const want = `{"v":1,"id":"abc123","iss":"aXNzdWVyLXB1Yg==","sub":"c3ViamVjdC1wdWI=","resource":"github","scope":["*"],"tier":"LIVE","iat":1700000000,"exp":1700003600,"keyVersion":1,"keyId":"deadbeef"}`

	if string(input) != want {
		t.Fatalf("signingInput() =\n%s\nwant\n%s", input, want)
	}
}

func TestEncodeDecodeTokenRoundTrip(t *testing.T) {
	tok := Token{
		V:          1,
		ID:         "abc123",
		Iss:        "aXNzdWVyLXB1Yg==",
		Sub:        "c3ViamVjdC1wdWI=",
		Resource:   "github",
		Scope:      []string{"read"},
		Tier:       "LIVE",
		Iat:        1700000000,
		Exp:        1700003600,
		KeyVersion: 1,
		KeyID:      "deadbeef",
		Sig:        "c2ln",
	}

	encoded, err := encodeToken(tok)
	if err != nil {
		t.Fatalf("encodeToken() error = %v", err)
	}
	decoded, err := decodeToken(encoded)
	if err != nil {
		t.Fatalf("decodeToken() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, tok) {
		t.Fatalf("decodeToken() = %+v, want %+v", decoded, tok)
	}
}

func TestDecodeTokenRejectsMalformed(t *testing.T) {
	if _, err := decodeToken("not-valid-base64url!!!"); err != ErrMalformedToken {
		t.Errorf("decodeToken() error = %v, want ErrMalformedToken", err)
	}
}

package signature

import (
	"strings"
	"testing"
)

func TestSignMatchesKnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := Sign([]byte("what do ya want for nothing?"), "Jefe")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSignSHA512MatchesKnownVector(t *testing.T) {
	got := SignSHA512([]byte("what do ya want for nothing?"), "Jefe")
	want := "164b7a7bfcf819e2e395fbe73b56e0a387bd64222e831fd610270cd7ea250554" +
		"9758bf75c05a994a6d034f65f8f0e6fdcaeab1a34d4a6b4b636e070a38bce737"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestVerify(t *testing.T) {
	data := []byte(`{"amount":100}`)
	sign := Sign(data, "secret")
	if !Verify(sign, data, "secret") {
		t.Fatalf("expected signature to verify")
	}
	if Verify(sign, data, "other") {
		t.Fatalf("expected verification to fail with wrong secret")
	}
	if Verify(sign, []byte(`{"amount":101}`), "secret") {
		t.Fatalf("expected verification to fail with altered payload")
	}
	if Verify(strings.ToUpper(sign), data, "secret") {
		t.Fatalf("digest comparison must be case sensitive")
	}
}

func TestVerifySHA512(t *testing.T) {
	data := []byte(`{"payment_id":"42","payment_status":"finished"}`)
	sign := SignSHA512(data, "ipn-secret")
	if !VerifySHA512(sign, data, "ipn-secret") {
		t.Fatalf("expected signature to verify")
	}
	if VerifySHA512(sign, data, "wrong") {
		t.Fatalf("expected verification to fail with wrong secret")
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := Canonicalize([]byte(`{"b":2, "a":1, "c":{"z":true,"y":false}}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":1,"b":2,"c":{"y":false,"z":true}}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizePreservesNumberLiterals(t *testing.T) {
	got, err := Canonicalize([]byte(`{"amount":200.50,"count":10000000000}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"amount":200.50,"count":10000000000}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeDoesNotEscapeHTML(t *testing.T) {
	got, err := Canonicalize([]byte(`{"url":"https://x.test/a?b=1&c=2"}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"url":"https://x.test/a?b=1&c=2"}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeRejectsNonObject(t *testing.T) {
	if _, err := Canonicalize([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	if _, err := Canonicalize([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}

func TestCanonicalizeStableAcrossKeyOrder(t *testing.T) {
	a, err := Canonicalize([]byte(`{"x":1,"y":"z"}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	b, err := Canonicalize([]byte(`{"y":"z","x":1}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected identical canonical forms, got %s vs %s", a, b)
	}
	if SignSHA512(a, "s") != SignSHA512(b, "s") {
		t.Fatalf("expected identical digests for reordered payloads")
	}
}

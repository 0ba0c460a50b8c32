package cryptocore

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := DoubleHashKey([]byte("hello, convergent encryption"))
	iv, err := RandomIV()
	if err != nil {
		t.Fatal(err)
	}
	plain := []byte("the quick brown fox jumps over the lazy dog")

	ct, err := Seal(key, iv, plain)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ct, plain) {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := Open(key, iv, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Open() = %q, want %q", got, plain)
	}
}

func TestOpenDetectsTamperedCiphertext(t *testing.T) {
	key := DoubleHashKey([]byte("block contents"))
	iv, err := RandomIV()
	if err != nil {
		t.Fatal(err)
	}
	ct, err := Seal(key, iv, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	ct[0] ^= 0xFF
	if _, err := Open(key, iv, ct); err == nil {
		t.Error("expected tag verification failure on tampered ciphertext")
	}
}

func TestDoubleHashKeyIsConvergent(t *testing.T) {
	plain := []byte("identical plaintext block")
	k1 := DoubleHashKey(plain)
	k2 := DoubleHashKey(plain)
	if k1 != k2 {
		t.Error("DoubleHashKey must be deterministic over identical plaintext")
	}

	k3 := DoubleHashKey([]byte("different plaintext block"))
	if k1 == k3 {
		t.Error("DoubleHashKey collided for different plaintext")
	}
}

func TestQueryHashSize(t *testing.T) {
	q := QueryHash([]byte("some ciphertext"))
	if len(q) != QuerySize {
		t.Errorf("QueryHash length = %d, want %d", len(q), QuerySize)
	}
}

func TestRandomIVIsFresh(t *testing.T) {
	a, err := RandomIV()
	if err != nil {
		t.Fatal(err)
	}
	b, err := RandomIV()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two RandomIV() calls produced the same nonce (catastrophic or broken RNG)")
	}
}

package wallet

import (
	"bytes"
	"testing"

	"github.com/mr-tron/base58"
)

func TestNewDecodesKey(t *testing.T) {
	secret := []byte("a-fake-32-byte-ed25519-seed-val!")
	encoded := base58.Encode(secret)

	w, err := New(encoded, "Fakepub111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w.PublicKey() == "" {
		t.Fatal("expected non-empty public key")
	}

	out, err := w.Sign([]byte("tx-bytes"), func(key, tx []byte) ([]byte, error) {
		if !bytes.Equal(key, secret) {
			t.Fatal("sign function did not receive decoded key bytes")
		}
		return append([]byte("sig:"), tx...), nil
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if string(out) != "sig:tx-bytes" {
		t.Fatalf("unexpected signed payload: %s", out)
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	if _, err := New("", "pub"); err == nil {
		t.Fatal("expected error for empty private key")
	}
}

func TestNewRejectsInvalidBase58(t *testing.T) {
	if _, err := New("not-valid-base58-!!!", "pub"); err == nil {
		t.Fatal("expected error for invalid base58")
	}
}

package ledger

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSigner("0x" + hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSigner_SignVerify(t *testing.T) {
	s := newTestSigner(t)
	body := []byte("schedule-body")

	sig, err := s.Sign(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length: got %d, want 64", len(sig))
	}
	if !VerifySignature(s.PublicKey(), body, sig) {
		t.Error("signature should verify against own public key")
	}
	if VerifySignature(s.PublicKey(), []byte("other-body"), sig) {
		t.Error("signature must not verify for a different body")
	}
}

func TestSigner_WrongKeyFails(t *testing.T) {
	a, b := newTestSigner(t), newTestSigner(t)
	sig, _ := a.Sign([]byte("x"))
	if VerifySignature(b.PublicKey(), []byte("x"), sig) {
		t.Error("signature verified under wrong key")
	}
}

func TestSigner_EmptyBody(t *testing.T) {
	if _, err := newTestSigner(t).Sign(nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestNewSigner_BadKey(t *testing.T) {
	if _, err := NewSigner("not-hex"); err == nil {
		t.Error("expected parse error")
	}
}

package proofs

import (
	"strings"
	"testing"
	"time"
)

func TestMockProofShape(t *testing.T) {
	g := NewMockGenerator(DefaultCircuitPath)
	proof, err := g.GenerateSolvencyProof("1000", "500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(proof, "0x") || len(proof) != 66 {
		t.Fatalf("unexpected proof %q", proof)
	}
	again, _ := g.GenerateSolvencyProof("1000", "500")
	if proof != again {
		t.Fatalf("proof should be deterministic")
	}
	other, _ := NewMockGenerator("./circuits/other.wasm").GenerateSolvencyProof("1000", "500")
	if other == proof {
		t.Fatalf("circuit path should influence the proof")
	}
}

func TestMockProofRejectsEmptyBalance(t *testing.T) {
	if _, err := NewMockGenerator("").GenerateSolvencyProof("", "0"); err == nil {
		t.Fatalf("expected error for empty balance")
	}
}

func TestMockVerify(t *testing.T) {
	g := NewMockGenerator("")
	if !g.Verify("0x12345678901234567890") {
		t.Fatalf("expected long proof to verify")
	}
	if g.Verify("0x123") {
		t.Fatalf("expected short proof to fail")
	}
}

type countingGate struct {
	calls int
}

func (c *countingGate) GenerateSolvencyProof(balance, required string) (string, error) {
	c.calls++
	return NewMockGenerator("").GenerateSolvencyProof(balance, required)
}

func (c *countingGate) Verify(proof string) bool { return len(proof) > minProofLength }

func TestCachingGateReusesProofs(t *testing.T) {
	inner := &countingGate{}
	g, err := NewCachingGate(inner, time.Minute)
	if err != nil {
		t.Fatalf("new caching gate: %v", err)
	}
	defer g.Close()

	first, _ := g.GenerateSolvencyProof("10", "0")
	second, _ := g.GenerateSolvencyProof("10", "0")
	_, _ = g.GenerateSolvencyProof("11", "0")
	if first != second {
		t.Fatalf("expected cached proof")
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 underlying calls, got %d", inner.calls)
	}
	if !g.Verify(first) {
		t.Fatalf("cached proof should verify")
	}
}

func TestCachingGateRejectsZeroTTL(t *testing.T) {
	if _, err := NewCachingGate(NewMockGenerator(""), 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSignerFromHex("0x" + strings.Repeat("01", 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	sig, err := signer.Sign([]byte("test message"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+128 {
		t.Fatalf("unexpected signature %q", sig)
	}

	ok, err := VerifySignature(signer.PublicKey(), []byte("test message"), sig)
	if err != nil || !ok {
		t.Fatalf("expected valid signature, ok=%v err=%v", ok, err)
	}
	ok, err = VerifySignature(signer.PublicKey(), []byte("tampered"), sig)
	if err != nil || ok {
		t.Fatalf("expected tampered data to fail, ok=%v err=%v", ok, err)
	}
	ok, err = VerifySignature(signer.PublicKey(), []byte("test message"), strings.TrimPrefix(sig, "0x"))
	if err != nil || !ok {
		t.Fatalf("expected signature without prefix to verify")
	}
}

func TestVerifyWithWrongKey(t *testing.T) {
	a, _ := NewSignerFromHex(strings.Repeat("01", 32))
	b, _ := NewSignerFromHex(strings.Repeat("02", 32))
	sig, _ := a.Sign([]byte("test message"))
	ok, err := VerifySignature(b.PublicKey(), []byte("test message"), sig)
	if err != nil || ok {
		t.Fatalf("expected verification with wrong key to fail")
	}
}

func TestVerifyMalformedSignatures(t *testing.T) {
	s, _ := GenerateSigner()
	if _, err := VerifySignature(s.PublicKey(), []byte("x"), "not_valid_hex"); err == nil {
		t.Fatalf("expected hex error")
	}
	_, err := VerifySignature(s.PublicKey(), []byte("x"), "0x1234567890abcdef")
	if err == nil || !strings.Contains(err.Error(), "invalid signature length") {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pub, err := ParsePublicKey(s.PublicKeyHex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sig, _ := s.Sign([]byte("payload"))
	if ok, _ := VerifySignature(pub, []byte("payload"), sig); !ok {
		t.Fatalf("parsed key should verify signature")
	}
	if _, err := ParsePublicKey("0x1234"); err == nil {
		t.Fatalf("expected length error")
	}
}

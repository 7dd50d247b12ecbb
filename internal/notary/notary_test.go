package notary

import "testing"

func TestSignVerify_RoundTrips(t *testing.T) {
	pub, priv, err := Keypair()
	if err != nil {
		t.Fatalf("Keypair: %v", err)
	}

	payload := []byte(`{"op":"rename","target":"foo.go"}`)
	sig, err := Sign(payload, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if !Verify(payload, sig, pub) {
		t.Fatal("Verify should accept a signature produced by Sign")
	}
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	pub, priv, _ := Keypair()
	sig, _ := Sign([]byte("original"), priv)

	if Verify([]byte("tampered"), sig, pub) {
		t.Fatal("Verify should reject a signature over a different payload")
	}
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	pub1, _, _ := Keypair()
	_, priv2, _ := Keypair()

	payload := []byte("mutation")
	sig, _ := Sign(payload, priv2)

	if Verify(payload, sig, pub1) {
		t.Fatal("Verify should reject a signature made with a different key pair")
	}
}

func TestHash_IsDeterministicAndSensitiveToInput(t *testing.T) {
	a := Hash([]byte("x"))
	b := Hash([]byte("x"))
	c := Hash([]byte("y"))

	if a != b {
		t.Error("Hash of identical input should be identical")
	}
	if a == c {
		t.Error("Hash of different input should differ")
	}
}

func TestSign_RejectsMalformedKey(t *testing.T) {
	if _, err := Sign([]byte("x"), []byte("too-short")); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestVerify_RejectsMalformedKey(t *testing.T) {
	if Verify([]byte("x"), []byte("sig"), []byte("too-short")) {
		t.Fatal("Verify should reject a malformed public key rather than panic")
	}
}

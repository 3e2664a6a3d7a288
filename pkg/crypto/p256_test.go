package crypto

import (
	"bytes"
	"testing"
)

func TestP256_SignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	msg := []byte("to-be-signed payload")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Fatalf("signature length %d, want %d", len(sig), SignatureSize)
	}

	if !Verify(kp.PublicKey(), msg, sig) {
		t.Error("valid signature rejected")
	}

	// Tampered message.
	bad := append([]byte(nil), msg...)
	bad[0] ^= 0xff
	if Verify(kp.PublicKey(), bad, sig) {
		t.Error("signature accepted for tampered message")
	}

	// Tampered signature.
	badSig := append([]byte(nil), sig...)
	badSig[10] ^= 0x01
	if Verify(kp.PublicKey(), msg, badSig) {
		t.Error("tampered signature accepted")
	}

	// Wrong key.
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if Verify(other.PublicKey(), msg, sig) {
		t.Error("signature accepted under wrong public key")
	}
}

func TestP256_ECDHAgreement(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	s1, err := alice.ECDH(bob.PublicKey())
	if err != nil {
		t.Fatalf("alice ECDH failed: %v", err)
	}
	s2, err := bob.ECDH(alice.PublicKey())
	if err != nil {
		t.Fatalf("bob ECDH failed: %v", err)
	}

	if len(s1) != ScalarSize {
		t.Errorf("shared secret length %d, want %d", len(s1), ScalarSize)
	}
	if !bytes.Equal(s1, s2) {
		t.Error("shared secrets disagree")
	}
}

func TestP256_PublicKeyFormat(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	pub := kp.PublicKey()
	if len(pub) != PublicKeySize {
		t.Fatalf("public key length %d, want %d", len(pub), PublicKeySize)
	}
	if pub[0] != 0x04 {
		t.Errorf("public key prefix %#x, want 0x04 (uncompressed)", pub[0])
	}
	if err := ValidatePublicKey(pub); err != nil {
		t.Errorf("ValidatePublicKey rejected own key: %v", err)
	}
}

func TestP256_ValidatePublicKeyErrors(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	// Truncated.
	if err := ValidatePublicKey(kp.PublicKey()[:PublicKeySize-1]); err == nil {
		t.Error("truncated public key accepted")
	}

	// Not on the curve.
	offCurve := append([]byte(nil), kp.PublicKey()...)
	offCurve[PublicKeySize-1] ^= 0x01
	if err := ValidatePublicKey(offCurve); err == nil {
		t.Error("off-curve public key accepted")
	}

	if _, err := kp.ECDH(offCurve); err == nil {
		t.Error("ECDH accepted off-curve peer key")
	}
}

func TestP256_KeyPairFromScalar(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	restored, err := KeyPairFromScalar(kp.dh.Bytes())
	if err != nil {
		t.Fatalf("KeyPairFromScalar failed: %v", err)
	}
	if !bytes.Equal(restored.PublicKey(), kp.PublicKey()) {
		t.Error("restored key pair has different public key")
	}

	if _, err := KeyPairFromScalar(make([]byte, ScalarSize-1)); err == nil {
		t.Error("short scalar accepted")
	}
}

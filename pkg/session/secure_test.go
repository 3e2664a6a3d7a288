package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opmesh/casekit/pkg/crypto"
)

func testKeys(t *testing.T) Keys {
	t.Helper()
	var k Keys
	for i := range k.I2R {
		k.I2R[i] = byte(i)
		k.R2I[i] = byte(0x10 + i)
		k.AttestationChallenge[i] = byte(0x20 + i)
	}
	return k
}

func sessionPair(t *testing.T) (*SecureSession, *SecureSession) {
	t.Helper()
	keys := testKeys(t)

	initiator, err := New(Config{
		Role:           RoleInitiator,
		LocalSessionID: 100,
		PeerSessionID:  200,
		LocalNodeID:    0x1111,
		PeerNodeID:     0x2222,
		Keys:           keys,
	})
	if err != nil {
		t.Fatalf("New initiator: %v", err)
	}
	responder, err := New(Config{
		Role:           RoleResponder,
		LocalSessionID: 200,
		PeerSessionID:  100,
		LocalNodeID:    0x2222,
		PeerNodeID:     0x1111,
		Keys:           keys,
	})
	if err != nil {
		t.Fatalf("New responder: %v", err)
	}
	return initiator, responder
}

func TestSecureSessionRoundTrip(t *testing.T) {
	initiator, responder := sessionPair(t)

	payload := []byte("command payload")
	aad := []byte{0x01, 0x02}

	counter, sealed, err := initiator.Encrypt(payload, aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := responder.Decrypt(counter, sealed, aad)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("plaintext = %x, want %x", got, payload)
	}

	counter, sealed, err = responder.Encrypt(payload, nil)
	if err != nil {
		t.Fatalf("Encrypt reverse: %v", err)
	}
	if got, err = initiator.Decrypt(counter, sealed, nil); err != nil {
		t.Fatalf("Decrypt reverse: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reverse plaintext = %x, want %x", got, payload)
	}
}

func TestSecureSessionCounterAdvances(t *testing.T) {
	initiator, _ := sessionPair(t)

	c1, _, err := initiator.Encrypt([]byte("a"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	c2, _, err := initiator.Encrypt([]byte("a"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if c2 != c1+1 {
		t.Fatalf("counters = %d, %d; want consecutive", c1, c2)
	}
}

func TestSecureSessionRejectsTamper(t *testing.T) {
	initiator, responder := sessionPair(t)

	counter, sealed, err := initiator.Encrypt([]byte("payload"), []byte("hdr"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[0] ^= 0x80
	if _, err := responder.Decrypt(counter, tampered, []byte("hdr")); !errors.Is(err, crypto.ErrAEADAuthFailed) {
		t.Fatalf("tampered ciphertext: err = %v, want %v", err, crypto.ErrAEADAuthFailed)
	}

	if _, err := responder.Decrypt(counter+1, sealed, []byte("hdr")); !errors.Is(err, crypto.ErrAEADAuthFailed) {
		t.Fatalf("wrong counter: err = %v, want %v", err, crypto.ErrAEADAuthFailed)
	}

	if _, err := responder.Decrypt(counter, sealed, []byte("other")); !errors.Is(err, crypto.ErrAEADAuthFailed) {
		t.Fatalf("wrong aad: err = %v, want %v", err, crypto.ErrAEADAuthFailed)
	}
}

func TestSecureSessionDirectionKeysDiffer(t *testing.T) {
	initiator, _ := sessionPair(t)

	counter, sealed, err := initiator.Encrypt([]byte("payload"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	// A message sealed under the send key must not open under it.
	if _, err := initiator.Decrypt(counter, sealed, nil); err == nil {
		t.Fatal("initiator decrypted its own outbound message")
	}
}

func TestSecureSessionClose(t *testing.T) {
	secret := crypto.NewSecretBuffer(bytes.Repeat([]byte{0xAB}, 32))
	s, err := New(Config{
		Role:        RoleInitiator,
		LocalNodeID: 1,
		PeerNodeID:  2,
		Keys:        testKeys(t),
		Resumption: &ResumptionHandle{
			SharedSecret: secret,
			PeerNodeID:   2,
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.Resumption() == nil {
		t.Fatal("Resumption() = nil before close")
	}

	s.Close()
	s.Close()

	if !secret.IsEmpty() {
		t.Fatal("shared secret not wiped on close")
	}
	if s.Resumption() != nil {
		t.Fatal("Resumption() != nil after close")
	}
	if _, _, err := s.Encrypt([]byte("x"), nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Encrypt after close: err = %v, want %v", err, ErrSessionClosed)
	}
	if _, err := s.Decrypt(1, bytes.Repeat([]byte{0}, 16), nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Decrypt after close: err = %v, want %v", err, ErrSessionClosed)
	}

	var zero [crypto.SymmetricKeySize]byte
	if s.AttestationChallenge() != zero {
		t.Fatal("attestation challenge not wiped on close")
	}
}

func TestSecureSessionAccessors(t *testing.T) {
	initiator, responder := sessionPair(t)

	if initiator.Role() != RoleInitiator || responder.Role() != RoleResponder {
		t.Fatalf("roles = %v, %v", initiator.Role(), responder.Role())
	}
	if initiator.LocalSessionID() != 100 || initiator.PeerSessionID() != 200 {
		t.Fatalf("initiator session IDs = %d, %d", initiator.LocalSessionID(), initiator.PeerSessionID())
	}
	if initiator.PeerNodeID() != 0x2222 {
		t.Fatalf("PeerNodeID = %#x", initiator.PeerNodeID())
	}
	want := testKeys(t).AttestationChallenge
	if initiator.AttestationChallenge() != want {
		t.Fatal("attestation challenge mismatch")
	}
}

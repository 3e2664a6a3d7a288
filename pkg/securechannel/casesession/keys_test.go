package casesession

import (
	"bytes"
	"testing"

	"github.com/opmesh/casekit/pkg/crypto"
)

func TestHandshakeKeys_Distinct(t *testing.T) {
	secret := bytes.Repeat([]byte{0x5A}, 32)
	ipk := bytes.Repeat([]byte{0x17}, 16)
	var random [RandomSize]byte
	fillPattern(random[:], 0x01)
	var ephPub [crypto.PublicKeySize]byte
	fillPattern(ephPub[:], 0x02)
	var digest [crypto.HashSize]byte
	fillPattern(digest[:], 0x03)
	var resumptionID [ResumptionIDSize]byte
	fillPattern(resumptionID[:], 0x04)

	s2k, err := DeriveS2K(secret, ipk, random, ephPub, digest)
	if err != nil {
		t.Fatalf("DeriveS2K() = %v", err)
	}
	s3k, err := DeriveS3K(secret, ipk, digest)
	if err != nil {
		t.Fatalf("DeriveS3K() = %v", err)
	}
	s1rk, err := DeriveS1RK(secret, random, resumptionID)
	if err != nil {
		t.Fatalf("DeriveS1RK() = %v", err)
	}
	s2rk, err := DeriveS2RK(secret, random, resumptionID)
	if err != nil {
		t.Fatalf("DeriveS2RK() = %v", err)
	}

	keys := [][crypto.SymmetricKeySize]byte{s2k, s3k, s1rk, s2rk}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[i] == keys[j] {
				t.Errorf("keys %d and %d are equal", i, j)
			}
		}
	}
}

func TestDeriveS2K_Deterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x5A}, 32)
	ipk := bytes.Repeat([]byte{0x17}, 16)
	var random [RandomSize]byte
	var ephPub [crypto.PublicKeySize]byte
	var digest [crypto.HashSize]byte

	a, err := DeriveS2K(secret, ipk, random, ephPub, digest)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveS2K(secret, ipk, random, ephPub, digest)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same inputs produced different keys")
	}

	digest[0] ^= 0x01
	c, err := DeriveS2K(secret, ipk, random, ephPub, digest)
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("transcript change did not change the key")
	}
}

func TestDeriveSessionKeys(t *testing.T) {
	secret := bytes.Repeat([]byte{0x5A}, 32)
	ipk := bytes.Repeat([]byte{0x17}, 16)
	var digest [crypto.HashSize]byte
	fillPattern(digest[:], 0x09)

	keys, err := DeriveSessionKeys(secret, ipk, digest)
	if err != nil {
		t.Fatalf("DeriveSessionKeys() = %v", err)
	}

	if keys.I2R == keys.R2I {
		t.Error("directional keys are equal")
	}
	if keys.I2R == keys.AttestationChallenge || keys.R2I == keys.AttestationChallenge {
		t.Error("attestation challenge collides with a traffic key")
	}

	again, err := DeriveSessionKeys(secret, ipk, digest)
	if err != nil {
		t.Fatal(err)
	}
	if *again != *keys {
		t.Error("same inputs produced different session keys")
	}
}

func TestTBEData_EncryptDecrypt(t *testing.T) {
	var key [crypto.SymmetricKeySize]byte
	fillPattern(key[:], 0x21)
	plaintext := []byte("to-be-encrypted payload")

	sealed, err := EncryptTBEData(key, plaintext, Sigma2Nonce)
	if err != nil {
		t.Fatalf("EncryptTBEData() = %v", err)
	}
	opened, err := DecryptTBEData(key, sealed, Sigma2Nonce)
	if err != nil {
		t.Fatalf("DecryptTBEData() = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("round trip mismatch")
	}

	if _, err := DecryptTBEData(key, sealed, Sigma3Nonce); err == nil {
		t.Error("payload opened under the wrong nonce")
	}
	sealed[0] ^= 0x01
	if _, err := DecryptTBEData(key, sealed, Sigma2Nonce); err == nil {
		t.Error("tampered payload opened")
	}
}

func TestResumeMIC(t *testing.T) {
	var key [crypto.SymmetricKeySize]byte
	fillPattern(key[:], 0x31)

	mic, err := ComputeResumeMIC(key, Resume1Nonce)
	if err != nil {
		t.Fatalf("ComputeResumeMIC() = %v", err)
	}
	if !VerifyResumeMIC(key, Resume1Nonce, mic) {
		t.Error("valid MIC rejected")
	}
	if VerifyResumeMIC(key, Resume2Nonce, mic) {
		t.Error("MIC verified under the wrong nonce")
	}

	var wrongKey [crypto.SymmetricKeySize]byte
	fillPattern(wrongKey[:], 0x32)
	if VerifyResumeMIC(wrongKey, Resume1Nonce, mic) {
		t.Error("MIC verified under the wrong key")
	}

	mic[3] ^= 0x01
	if VerifyResumeMIC(key, Resume1Nonce, mic) {
		t.Error("tampered MIC verified")
	}
}

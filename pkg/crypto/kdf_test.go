package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// RFC 5869 Appendix A, test case 1.
func TestHKDFSHA256_RFC5869(t *testing.T) {
	ikm := mustHex(t, "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	salt := mustHex(t, "000102030405060708090a0b0c")
	info := mustHex(t, "f0f1f2f3f4f5f6f7f8f9")
	want := mustHex(t, "3cb25f25faacd57a90434f64d0362f2a"+
		"2d2d0a90cf1a5a4c5db02d56ecc4c5bf"+
		"34007208d5b887185865")

	got, err := HKDFSHA256(ikm, salt, info, 42)
	if err != nil {
		t.Fatalf("HKDFSHA256 failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("OKM mismatch\n got %x\nwant %x", got, want)
	}
}

func TestHKDFSHA256_Deterministic(t *testing.T) {
	ikm := []byte("input keying material")
	salt := []byte("salt")
	info := []byte("info")

	a, err := HKDFSHA256(ikm, salt, info, SymmetricKeySize)
	if err != nil {
		t.Fatalf("HKDFSHA256 failed: %v", err)
	}
	b, err := HKDFSHA256(ikm, salt, info, SymmetricKeySize)
	if err != nil {
		t.Fatalf("HKDFSHA256 failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same inputs produced different output")
	}

	c, err := HKDFSHA256(ikm, salt, []byte("other"), SymmetricKeySize)
	if err != nil {
		t.Fatalf("HKDFSHA256 failed: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Error("different info produced identical output")
	}
}

// RFC 4231, test case 2.
func TestHMACSHA256_RFC4231(t *testing.T) {
	key := []byte("Jefe")
	msg := []byte("what do ya want for nothing?")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"

	got := HMACSHA256(key, msg)
	if hex.EncodeToString(got[:]) != want {
		t.Errorf("HMAC mismatch: got %x want %s", got, want)
	}
}

func TestHMACEqual(t *testing.T) {
	a := HMACSHA256([]byte("k"), []byte("m"))
	b := HMACSHA256([]byte("k"), []byte("m"))
	c := HMACSHA256([]byte("k"), []byte("x"))

	if !HMACEqual(a[:], b[:]) {
		t.Error("equal MACs compared unequal")
	}
	if HMACEqual(a[:], c[:]) {
		t.Error("different MACs compared equal")
	}
}

func TestDeriveGroupKey(t *testing.T) {
	epochKey := mustHex(t, "23456789abcdef0123456789abcdef01")
	compressedFabricID := mustHex(t, "2906c908d115d362")

	ipk, err := DeriveGroupKey(epochKey, compressedFabricID)
	if err != nil {
		t.Fatalf("DeriveGroupKey failed: %v", err)
	}
	if len(ipk) != SymmetricKeySize {
		t.Fatalf("key length %d, want %d", len(ipk), SymmetricKeySize)
	}

	// Different fabric binds to a different key.
	otherFabric := mustHex(t, "0000000000000001")
	other, err := DeriveGroupKey(epochKey, otherFabric)
	if err != nil {
		t.Fatalf("DeriveGroupKey failed: %v", err)
	}
	if bytes.Equal(ipk, other) {
		t.Error("different fabrics produced identical group key")
	}

	if _, err := DeriveGroupKey(epochKey[:8], compressedFabricID); err != ErrEpochKeySize {
		t.Errorf("short epoch key: got %v", err)
	}
	if _, err := DeriveGroupKey(epochKey, compressedFabricID[:4]); err != ErrCompressedFabricIDLen {
		t.Errorf("short fabric id: got %v", err)
	}
}

func TestBuildAEADNonce(t *testing.T) {
	nonce := BuildAEADNonce(0x80, 0x12345678, 0x0102030405060708)
	if len(nonce) != AEADNonceSize {
		t.Fatalf("nonce length %d, want %d", len(nonce), AEADNonceSize)
	}

	want := mustHex(t, "80"+"78563412"+"0807060504030201")
	if !bytes.Equal(nonce, want) {
		t.Errorf("nonce mismatch\n got %x\nwant %x", nonce, want)
	}
}

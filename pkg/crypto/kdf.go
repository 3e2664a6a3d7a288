package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA256 derives length bytes of key material per RFC 5869.
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, inputKey, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HMACSHA256 computes the HMAC-SHA256 of msg under key.
func HMACSHA256(key, msg []byte) [HashSize]byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewHMACSHA256 returns a streaming HMAC-SHA256.
func NewHMACSHA256(key []byte) hash.Hash {
	return hmac.New(sha256.New, key)
}

// HMACEqual compares two MACs in constant time.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

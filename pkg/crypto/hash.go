// Package crypto provides the cryptographic provider consumed by the CASE
// handshake: P-256 key agreement and signatures, AES-128-CCM authenticated
// encryption, HKDF/HMAC-SHA256 and a streaming transcript hash.
package crypto

import (
	"crypto/sha256"
	"hash"
)

// HashSize is the SHA-256 digest length in bytes.
const HashSize = 32

// SHA256 computes the SHA-256 digest of msg.
func SHA256(msg []byte) [HashSize]byte {
	return sha256.Sum256(msg)
}

// NewSHA256 returns a streaming SHA-256 hash.
func NewSHA256() hash.Hash {
	return sha256.New()
}

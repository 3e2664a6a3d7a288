package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// P-256 sizes.
const (
	// ScalarSize is the P-256 group/scalar size in bytes.
	ScalarSize = 32

	// PublicKeySize is the uncompressed public key size:
	// 0x04 || X (32 bytes) || Y (32 bytes).
	PublicKeySize = 65

	// SignatureSize is the raw ECDSA signature size (r || s).
	SignatureSize = 64
)

// P-256 errors.
var (
	ErrInvalidPublicKey = errors.New("crypto: invalid P-256 public key")
	ErrInvalidScalar    = errors.New("crypto: invalid P-256 private scalar")
	ErrInvalidSignature = errors.New("crypto: invalid signature encoding")
)

// KeyPair holds a P-256 private key usable for both ECDH key agreement and
// ECDSA signing.
type KeyPair struct {
	dh  *ecdh.PrivateKey
	dsa *ecdsa.PrivateKey
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	dh, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	dsa, err := signingKeyFromECDH(dh)
	if err != nil {
		return nil, err
	}
	return &KeyPair{dh: dh, dsa: dsa}, nil
}

// KeyPairFromScalar reconstructs a key pair from a raw 32-byte private
// scalar.
func KeyPairFromScalar(scalar []byte) (*KeyPair, error) {
	if len(scalar) != ScalarSize {
		return nil, ErrInvalidScalar
	}
	dh, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScalar, err)
	}
	dsa, err := signingKeyFromECDH(dh)
	if err != nil {
		return nil, err
	}
	return &KeyPair{dh: dh, dsa: dsa}, nil
}

// PublicKey returns the public key in uncompressed form (0x04 || X || Y).
func (kp *KeyPair) PublicKey() []byte {
	return kp.dh.PublicKey().Bytes()
}

// signingKeyFromECDH converts the ecdh private key into an ecdsa one so the
// same operational key can both agree and sign.
func signingKeyFromECDH(dh *ecdh.PrivateKey) (*ecdsa.PrivateKey, error) {
	pub := dh.PublicKey().Bytes()
	if len(pub) != PublicKeySize || pub[0] != 0x04 {
		return nil, ErrInvalidPublicKey
	}
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1 : 1+ScalarSize]),
			Y:     new(big.Int).SetBytes(pub[1+ScalarSize:]),
		},
		D: new(big.Int).SetBytes(dh.Bytes()),
	}, nil
}

// Sign signs SHA256(msg) with ECDSA and returns the raw 64-byte r||s form,
// each half zero-padded to 32 bytes.
func (kp *KeyPair) Sign(msg []byte) ([]byte, error) {
	digest := SHA256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, kp.dsa, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDSA sign failed: %w", err)
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:ScalarSize])
	s.FillBytes(sig[ScalarSize:])
	return sig, nil
}

// Verify checks a raw r||s signature over SHA256(msg) against an
// uncompressed public key. It reports false for any malformed input.
func Verify(publicKey, msg, sig []byte) bool {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return false
	}
	if len(sig) != SignatureSize {
		return false
	}
	r := new(big.Int).SetBytes(sig[:ScalarSize])
	s := new(big.Int).SetBytes(sig[ScalarSize:])
	digest := SHA256(msg)
	return ecdsa.Verify(pub, digest[:], r, s)
}

// ECDH computes the shared secret (x-coordinate, 32 bytes) between our
// private key and the peer's uncompressed public key.
func (kp *KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	if len(peerPublicKey) != PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	peer, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	secret, err := kp.dh.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH failed: %w", err)
	}
	return secret, nil
}

// ValidatePublicKey checks that a byte slice is a well-formed uncompressed
// point on the curve.
func ValidatePublicKey(publicKey []byte) error {
	_, err := parsePublicKey(publicKey)
	return err
}

func parsePublicKey(publicKey []byte) (*ecdsa.PublicKey, error) {
	if len(publicKey) != PublicKeySize || publicKey[0] != 0x04 {
		return nil, ErrInvalidPublicKey
	}
	x := new(big.Int).SetBytes(publicKey[1 : 1+ScalarSize])
	y := new(big.Int).SetBytes(publicKey[1+ScalarSize:])
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, ErrInvalidPublicKey
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

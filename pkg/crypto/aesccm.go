// AES-128-CCM (NIST 800-38C) with the parameter set the secure channel
// mandates: 16-byte keys, 13-byte nonces, 16-byte tags. The standard library
// has no CCM mode, so the CBC-MAC/CTR construction is implemented directly
// over crypto/aes.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AEAD parameters.
const (
	// SymmetricKeySize is the AES-128 key length in bytes.
	SymmetricKeySize = 16

	// AEADNonceSize is the CCM nonce length in bytes.
	AEADNonceSize = 13

	// AEADTagSize is the authentication tag (MIC) length in bytes.
	AEADTagSize = 16

	// ccmLengthSize is L, the message-length field width: 15 - nonce size.
	ccmLengthSize = 15 - AEADNonceSize

	blockSize = 16
)

// AEAD errors.
var (
	ErrAEADKeySize     = errors.New("crypto: AEAD key must be 16 bytes")
	ErrAEADNonceSize   = errors.New("crypto: AEAD nonce must be 13 bytes")
	ErrAEADShortInput  = errors.New("crypto: AEAD ciphertext shorter than tag")
	ErrAEADAuthFailed  = errors.New("crypto: AEAD authentication failed")
	ErrAEADMessageSize = errors.New("crypto: AEAD plaintext too long")
)

// CCM is an AES-128-CCM instance bound to one key.
type CCM struct {
	block cipher.Block
}

// NewCCM creates an AES-128-CCM cipher from a 16-byte key.
func NewCCM(key []byte) (*CCM, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrAEADKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CCM{block: block}, nil
}

// Seal encrypts and authenticates plaintext with the given nonce and
// additional authenticated data, returning ciphertext || tag.
func (c *CCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, ErrAEADNonceSize
	}
	if len(plaintext) >= 1<<(8*ccmLengthSize) {
		return nil, ErrAEADMessageSize
	}

	tag := c.authTag(nonce, plaintext, aad)

	out := make([]byte, len(plaintext)+AEADTagSize)
	s0 := c.keystreamBlock(nonce, 0)
	for i := 0; i < AEADTagSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}
	c.ctrXOR(nonce, out[:len(plaintext)], plaintext)
	return out, nil
}

// Open decrypts and verifies ciphertext || tag, returning the plaintext or
// ErrAEADAuthFailed when the tag does not verify.
func (c *CCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, ErrAEADNonceSize
	}
	if len(ciphertext) < AEADTagSize {
		return nil, ErrAEADShortInput
	}

	body := ciphertext[:len(ciphertext)-AEADTagSize]
	sealedTag := ciphertext[len(ciphertext)-AEADTagSize:]

	s0 := c.keystreamBlock(nonce, 0)
	gotTag := make([]byte, AEADTagSize)
	for i := range gotTag {
		gotTag[i] = sealedTag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(body))
	c.ctrXOR(nonce, plaintext, body)

	wantTag := c.authTag(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		ZeroBytes(plaintext)
		return nil, ErrAEADAuthFailed
	}
	return plaintext, nil
}

// authTag computes the CBC-MAC over B0, the encoded AAD and the plaintext.
func (c *CCM) authTag(nonce, plaintext, aad []byte) []byte {
	var b0 [blockSize]byte
	flags := byte((AEADTagSize-2)/2)<<3 | byte(ccmLengthSize-1)
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	b0[0] = flags
	copy(b0[1:1+AEADNonceSize], nonce)
	binary.BigEndian.PutUint16(b0[blockSize-ccmLengthSize:], uint16(len(plaintext)))

	mac := make([]byte, blockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		var first [blockSize]byte
		var header int
		switch {
		case len(aad) < (1<<16)-(1<<8):
			binary.BigEndian.PutUint16(first[:2], uint16(len(aad)))
			header = 2
		case uint64(len(aad)) < 1<<32:
			first[0], first[1] = 0xFF, 0xFE
			binary.BigEndian.PutUint32(first[2:6], uint32(len(aad)))
			header = 6
		default:
			first[0], first[1] = 0xFF, 0xFF
			binary.BigEndian.PutUint64(first[2:10], uint64(len(aad)))
			header = 10
		}
		n := copy(first[header:], aad)
		cbcMACBlock(c.block, mac, first[:])
		remaining := aad[n:]
		for len(remaining) > 0 {
			var blk [blockSize]byte
			m := copy(blk[:], remaining)
			remaining = remaining[m:]
			cbcMACBlock(c.block, mac, blk[:])
		}
	}

	remaining := plaintext
	for len(remaining) > 0 {
		var blk [blockSize]byte
		m := copy(blk[:], remaining)
		remaining = remaining[m:]
		cbcMACBlock(c.block, mac, blk[:])
	}

	return mac[:AEADTagSize]
}

func cbcMACBlock(block cipher.Block, mac, in []byte) {
	for i := 0; i < blockSize; i++ {
		mac[i] ^= in[i]
	}
	block.Encrypt(mac, mac)
}

// keystreamBlock returns S_i = E(K, A_i) for counter value i.
func (c *CCM) keystreamBlock(nonce []byte, counter uint16) []byte {
	var a [blockSize]byte
	a[0] = byte(ccmLengthSize - 1)
	copy(a[1:1+AEADNonceSize], nonce)
	binary.BigEndian.PutUint16(a[blockSize-ccmLengthSize:], counter)

	s := make([]byte, blockSize)
	c.block.Encrypt(s, a[:])
	return s
}

// ctrXOR applies the CTR keystream starting at counter 1.
func (c *CCM) ctrXOR(nonce []byte, dst, src []byte) {
	counter := uint16(1)
	for i := 0; i < len(src); i += blockSize {
		ks := c.keystreamBlock(nonce, counter)
		counter++
		end := i + blockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ ks[j-i]
		}
	}
}

// AEADEncrypt is a one-shot AES-128-CCM seal.
func AEADEncrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	ccm, err := NewCCM(key)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, plaintext, aad)
}

// AEADDecrypt is a one-shot AES-128-CCM open.
func AEADDecrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	ccm, err := NewCCM(key)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, ciphertext, aad)
}

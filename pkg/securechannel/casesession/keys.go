package casesession

import (
	"github.com/opmesh/casekit/pkg/crypto"
	"github.com/opmesh/casekit/pkg/session"
)

// DeriveS2K derives the key protecting the responder's encrypted Sigma2
// payload. The salt binds the identity key, the responder's fresh values and
// the running transcript over Sigma1.
func DeriveS2K(sharedSecret, ipk []byte, responderRandom [RandomSize]byte, responderEphPubKey [crypto.PublicKeySize]byte, transcriptDigest [crypto.HashSize]byte) ([crypto.SymmetricKeySize]byte, error) {
	salt := make([]byte, 0, len(ipk)+RandomSize+crypto.PublicKeySize+crypto.HashSize)
	salt = append(salt, ipk...)
	salt = append(salt, responderRandom[:]...)
	salt = append(salt, responderEphPubKey[:]...)
	salt = append(salt, transcriptDigest[:]...)
	return deriveSymmetricKey(sharedSecret, salt, s2kInfo)
}

// DeriveS3K derives the key protecting the initiator's encrypted Sigma3
// payload. The salt binds the identity key and the transcript over Sigma1
// and Sigma2.
func DeriveS3K(sharedSecret, ipk []byte, transcriptDigest [crypto.HashSize]byte) ([crypto.SymmetricKeySize]byte, error) {
	salt := make([]byte, 0, len(ipk)+crypto.HashSize)
	salt = append(salt, ipk...)
	salt = append(salt, transcriptDigest[:]...)
	return deriveSymmetricKey(sharedSecret, salt, s3kInfo)
}

// DeriveS1RK derives the key for the Sigma1 resumption MIC from the previous
// session's shared secret.
func DeriveS1RK(prevSecret []byte, initiatorRandom [RandomSize]byte, resumptionID [ResumptionIDSize]byte) ([crypto.SymmetricKeySize]byte, error) {
	return deriveResumeKey(prevSecret, initiatorRandom, resumptionID, s1rkInfo)
}

// DeriveS2RK derives the key for the Sigma2Resume MIC. The resumption ID
// here is the fresh one picked by the responder, not the one from Sigma1.
func DeriveS2RK(prevSecret []byte, initiatorRandom [RandomSize]byte, resumptionID [ResumptionIDSize]byte) ([crypto.SymmetricKeySize]byte, error) {
	return deriveResumeKey(prevSecret, initiatorRandom, resumptionID, s2rkInfo)
}

func deriveResumeKey(prevSecret []byte, initiatorRandom [RandomSize]byte, resumptionID [ResumptionIDSize]byte, info []byte) ([crypto.SymmetricKeySize]byte, error) {
	salt := make([]byte, 0, RandomSize+ResumptionIDSize)
	salt = append(salt, initiatorRandom[:]...)
	salt = append(salt, resumptionID[:]...)
	return deriveSymmetricKey(prevSecret, salt, info)
}

func deriveSymmetricKey(secret, salt, info []byte) ([crypto.SymmetricKeySize]byte, error) {
	var key [crypto.SymmetricKeySize]byte
	okm, err := crypto.HKDFSHA256(secret, salt, info, crypto.SymmetricKeySize)
	if err != nil {
		return key, err
	}
	copy(key[:], okm)
	crypto.ZeroBytes(okm)
	return key, nil
}

// DeriveSessionKeys expands the shared secret into the directional session
// keys and the attestation challenge. The transcript digest covers the whole
// handshake, so both sides must finalize before calling this.
func DeriveSessionKeys(sharedSecret, ipk []byte, transcriptDigest [crypto.HashSize]byte) (*session.Keys, error) {
	salt := make([]byte, 0, len(ipk)+crypto.HashSize)
	salt = append(salt, ipk...)
	salt = append(salt, transcriptDigest[:]...)

	okm, err := crypto.HKDFSHA256(sharedSecret, salt, seKeysInfo, 3*SessionKeySize)
	if err != nil {
		return nil, err
	}

	keys := &session.Keys{}
	copy(keys.I2R[:], okm[:SessionKeySize])
	copy(keys.R2I[:], okm[SessionKeySize:2*SessionKeySize])
	copy(keys.AttestationChallenge[:], okm[2*SessionKeySize:])
	crypto.ZeroBytes(okm)
	return keys, nil
}

// EncryptTBEData seals a to-be-encrypted payload under the given handshake
// key. The result carries the AEAD tag.
func EncryptTBEData(key [crypto.SymmetricKeySize]byte, plaintext, nonce []byte) ([]byte, error) {
	return crypto.AEADEncrypt(key[:], nonce, plaintext, nil)
}

// DecryptTBEData opens a sealed handshake payload.
func DecryptTBEData(key [crypto.SymmetricKeySize]byte, ciphertext, nonce []byte) ([]byte, error) {
	return crypto.AEADDecrypt(key[:], nonce, ciphertext, nil)
}

// ComputeResumeMIC produces the resumption proof: the AEAD tag over an empty
// plaintext under a key only the previous session's peers can derive.
func ComputeResumeMIC(key [crypto.SymmetricKeySize]byte, nonce []byte) ([MICSize]byte, error) {
	var mic [MICSize]byte
	out, err := crypto.AEADEncrypt(key[:], nonce, nil, nil)
	if err != nil {
		return mic, err
	}
	copy(mic[:], out)
	return mic, nil
}

// VerifyResumeMIC checks a resumption proof. A MIC is valid exactly when it
// opens as an empty-plaintext AEAD message under the derived key.
func VerifyResumeMIC(key [crypto.SymmetricKeySize]byte, nonce []byte, mic [MICSize]byte) bool {
	_, err := crypto.AEADDecrypt(key[:], nonce, mic[:], nil)
	return err == nil
}

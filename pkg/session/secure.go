// Package session provides the cryptographic context of an
// established secure session: role-asymmetric AEAD protection of
// application payloads with the keys handed over by session
// establishment.
package session

import (
	"errors"
	"sync"

	"github.com/opmesh/casekit/pkg/crypto"
)

// Role says which side of the handshake this node was on. Traffic keys
// are direction-bound, so both sides must agree on who was who.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	}
	return "Unknown"
}

var (
	ErrSessionClosed  = errors.New("session: session closed")
	ErrCounterExhaust = errors.New("session: outbound message counter exhausted")
)

// Keys is the key material a completed handshake hands to the session:
// one key per traffic direction plus the attestation challenge.
type Keys struct {
	I2R                  [crypto.SymmetricKeySize]byte
	R2I                  [crypto.SymmetricKeySize]byte
	AttestationChallenge [crypto.SymmetricKeySize]byte
}

// Wipe zeroes the key material.
func (k *Keys) Wipe() {
	crypto.ZeroBytes(k.I2R[:])
	crypto.ZeroBytes(k.R2I[:])
	crypto.ZeroBytes(k.AttestationChallenge[:])
}

// ResumptionHandle carries what a later handshake needs to take the
// abbreviated path: the resumption identifier agreed during this
// session and the shared secret it was minted from.
type ResumptionHandle struct {
	ResumptionID [16]byte
	SharedSecret *crypto.SecretBuffer
	PeerNodeID   uint64
	FabricID     uint64
}

// Config assembles a SecureSession.
type Config struct {
	Role           Role
	LocalSessionID uint16
	PeerSessionID  uint16
	LocalNodeID    uint64
	PeerNodeID     uint64
	Keys           Keys

	// Resumption is optional; when present the session owns its shared
	// secret and wipes it on Close.
	Resumption *ResumptionHandle
}

// SecureSession encrypts outbound and decrypts inbound application
// payloads. The initiator sends under the I2R key and receives under
// R2I; the responder is the mirror image.
type SecureSession struct {
	role           Role
	localSessionID uint16
	peerSessionID  uint16
	localNodeID    uint64
	peerNodeID     uint64

	sendCipher *crypto.CCM
	recvCipher *crypto.CCM

	attestationChallenge [crypto.SymmetricKeySize]byte
	resumption           *ResumptionHandle

	mu          sync.Mutex
	sendCounter uint32
	closed      bool
}

// New builds a SecureSession from handshake output.
func New(config Config) (*SecureSession, error) {
	sendKey, recvKey := config.Keys.I2R, config.Keys.R2I
	if config.Role == RoleResponder {
		sendKey, recvKey = recvKey, sendKey
	}

	sendCipher, err := crypto.NewCCM(sendKey[:])
	if err != nil {
		return nil, err
	}
	recvCipher, err := crypto.NewCCM(recvKey[:])
	if err != nil {
		return nil, err
	}

	return &SecureSession{
		role:                 config.Role,
		localSessionID:       config.LocalSessionID,
		peerSessionID:        config.PeerSessionID,
		localNodeID:          config.LocalNodeID,
		peerNodeID:           config.PeerNodeID,
		sendCipher:           sendCipher,
		recvCipher:           recvCipher,
		attestationChallenge: config.Keys.AttestationChallenge,
		resumption:           config.Resumption,
	}, nil
}

// Encrypt protects one outbound payload. It allocates the next message
// counter and returns it together with the sealed payload; the peer
// needs the counter to rebuild the nonce.
func (s *SecureSession) Encrypt(plaintext, aad []byte) (uint32, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, nil, ErrSessionClosed
	}
	if s.sendCounter == ^uint32(0) {
		return 0, nil, ErrCounterExhaust
	}
	s.sendCounter++
	counter := s.sendCounter

	nonce := crypto.BuildAEADNonce(0, counter, s.localNodeID)
	sealed, err := s.sendCipher.Seal(nonce, plaintext, aad)
	if err != nil {
		return 0, nil, err
	}
	return counter, sealed, nil
}

// Decrypt opens one inbound payload sealed under the given counter.
func (s *SecureSession) Decrypt(counter uint32, sealed, aad []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	nonce := crypto.BuildAEADNonce(0, counter, s.peerNodeID)
	return s.recvCipher.Open(nonce, sealed, aad)
}

// Role returns which side of the handshake this session came from.
func (s *SecureSession) Role() Role {
	return s.role
}

// LocalSessionID returns the identifier the peer addresses us by.
func (s *SecureSession) LocalSessionID() uint16 {
	return s.localSessionID
}

// PeerSessionID returns the identifier we address the peer by.
func (s *SecureSession) PeerSessionID() uint16 {
	return s.peerSessionID
}

// PeerNodeID returns the authenticated peer node identifier.
func (s *SecureSession) PeerNodeID() uint64 {
	return s.peerNodeID
}

// AttestationChallenge returns the attestation key derived alongside
// the traffic keys.
func (s *SecureSession) AttestationChallenge() [crypto.SymmetricKeySize]byte {
	return s.attestationChallenge
}

// Resumption returns the handle for resuming with this peer later, or
// nil when the session has none or is closed.
func (s *SecureSession) Resumption() *ResumptionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.resumption
}

// Close wipes the resumption secret and refuses further traffic. It is
// safe to call more than once.
func (s *SecureSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	crypto.ZeroBytes(s.attestationChallenge[:])
	if s.resumption != nil && s.resumption.SharedSecret != nil {
		s.resumption.SharedSecret.Wipe()
	}
	s.resumption = nil
}

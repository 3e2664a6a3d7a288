// Package casesession implements CASE (Certificate Authenticated Session
// Establishment), the SIGMA handshake that sets up a secure operational
// session between two commissioned nodes.
//
// The package supports:
//   - Full handshake: Sigma1 → Sigma2 → Sigma3 → StatusReport
//   - Session resumption: Sigma1 (with resumption) → Sigma2Resume → StatusReport
//
// Handshake progress is driven entirely by transport callbacks: an Engine is
// registered as the handler of an exchange endpoint and advances one state
// per inbound message. A (state, opcode) pair with no registered handler is
// a protocol violation and aborts the handshake.
package casesession

import "errors"

// Size constants.
const (
	// RandomSize is the size of the random value in Sigma1 and Sigma2.
	RandomSize = 32

	// ResumptionIDSize is the size of a session resumption identifier.
	ResumptionIDSize = 16

	// MICSize is the AEAD tag size of resumption MICs.
	MICSize = 16

	// DestinationIDSize is the size of the destination identifier.
	DestinationIDSize = 32

	// SessionKeySize is the size of one derived session traffic key.
	SessionKeySize = 16
)

// AEAD nonces for CASE operations (13 bytes each).
var (
	// Sigma2Nonce protects TBEData2.
	Sigma2Nonce = []byte("NCASE_Sigma2N")

	// Sigma3Nonce protects TBEData3.
	Sigma3Nonce = []byte("NCASE_Sigma3N")

	// Resume1Nonce is used for the Sigma1 resumption MIC.
	Resume1Nonce = []byte("NCASE_SigmaS1")

	// Resume2Nonce is used for the Sigma2Resume resumption MIC.
	Resume2Nonce = []byte("NCASE_SigmaS2")
)

// HKDF info strings. Each round derives under a distinct info string so a
// key from one round can never decrypt another.
var (
	s2kInfo    = []byte("Sigma2")
	s3kInfo    = []byte("Sigma3")
	s1rkInfo   = []byte("Sigma1_Resume")
	s2rkInfo   = []byte("Sigma2_Resume")
	seKeysInfo = []byte("SessionKeys")
)

// State is the handshake position of an Engine. Establishment itself is a
// flag rather than a state: the confirmation status report can arrive in
// either SentSigma3 or SentSigma2Resume.
type State int

const (
	// StateInitialized is the state before the handshake begins.
	StateInitialized State = iota

	// StateSentSigma1 means the initiator sent Sigma1 and awaits the
	// responder's Sigma2 or Sigma2Resume.
	StateSentSigma1

	// StateSentSigma2 means the responder sent Sigma2 and awaits Sigma3.
	StateSentSigma2

	// StateSentSigma2Resume means the abbreviated path is in flight and the
	// confirmation status report is outstanding.
	StateSentSigma2Resume

	// StateSentSigma3 means the initiator sent Sigma3 and awaits the
	// responder's status report.
	StateSentSigma3
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateSentSigma1:
		return "SentSigma1"
	case StateSentSigma2:
		return "SentSigma2"
	case StateSentSigma2Resume:
		return "SentSigma2Resume"
	case StateSentSigma3:
		return "SentSigma3"
	}
	return "Unknown"
}

// Errors returned by CASE operations.
var (
	// ErrInvalidMessageType is returned when a message type is not legal for
	// the current handshake state.
	ErrInvalidMessageType = errors.New("casesession: message type not valid for current state")

	// ErrIncorrectState is returned when an operation is invalid for the
	// engine's current state.
	ErrIncorrectState = errors.New("casesession: incorrect state for operation")

	// ErrTimeout is returned when the peer's next message did not arrive in
	// time.
	ErrTimeout = errors.New("casesession: timed out waiting for peer")

	// ErrNoSharedRoot is returned when no local fabric matches the
	// initiator's destination identifier, or the peer reported the same.
	ErrNoSharedRoot = errors.New("casesession: no shared trusted root")

	// ErrInvalidParameter is returned when the peer rejected the handshake.
	ErrInvalidParameter = errors.New("casesession: peer reported invalid parameter")

	// ErrBusy is returned when the peer asked us to retry later.
	ErrBusy = errors.New("casesession: peer busy")

	// ErrInvalidMessage is returned when a message is malformed.
	ErrInvalidMessage = errors.New("casesession: malformed message")

	// ErrMissingResumptionField is returned when only one of the resumption
	// id / resumption MIC pair is present.
	ErrMissingResumptionField = errors.New("casesession: resumption id and MIC must both be present")

	// ErrInvalidResumeMIC is returned when resumption MIC verification fails.
	ErrInvalidResumeMIC = errors.New("casesession: resumption MIC verification failed")

	// ErrInvalidCredentials is returned when peer credential verification
	// fails.
	ErrInvalidCredentials = errors.New("casesession: credential verification failed")

	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("casesession: signature verification failed")

	// ErrDecryptFailed is returned when a handshake payload does not
	// authenticate.
	ErrDecryptFailed = errors.New("casesession: handshake payload decryption failed")
)

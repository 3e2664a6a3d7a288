// Package securechannel defines the message types and status report
// codec of the Matter Secure Channel Protocol (Matter specification,
// Section 4.11 and Appendix D), scoped to certificate authenticated
// session establishment.
package securechannel

// ProtocolID is the Secure Channel protocol identifier. The full wire
// value is VendorID (upper 16 bits, zero for the Matter standard
// vendor) combined with this protocol number.
const ProtocolID uint16 = 0x0000

// Opcode identifies a Secure Channel protocol message.
type Opcode uint8

const (
	OpcodeSigma1       Opcode = 0x30
	OpcodeSigma2       Opcode = 0x31
	OpcodeSigma3       Opcode = 0x32
	OpcodeSigma2Resume Opcode = 0x33
	OpcodeStatusReport Opcode = 0x40
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeSigma1:
		return "Sigma1"
	case OpcodeSigma2:
		return "Sigma2"
	case OpcodeSigma3:
		return "Sigma3"
	case OpcodeSigma2Resume:
		return "Sigma2Resume"
	case OpcodeStatusReport:
		return "StatusReport"
	default:
		return "Unknown"
	}
}

// GeneralCode is a protocol-agnostic status code (Appendix D.3.1).
type GeneralCode uint16

const (
	GeneralCodeSuccess    GeneralCode = 0
	GeneralCodeFailure    GeneralCode = 1
	GeneralCodeBadRequest GeneralCode = 4
	GeneralCodeBusy       GeneralCode = 8
	GeneralCodeTimeout    GeneralCode = 9
	GeneralCodeNotFound   GeneralCode = 13
)

// String returns the general code name.
func (g GeneralCode) String() string {
	switch g {
	case GeneralCodeSuccess:
		return "SUCCESS"
	case GeneralCodeFailure:
		return "FAILURE"
	case GeneralCodeBadRequest:
		return "BAD_REQUEST"
	case GeneralCodeBusy:
		return "BUSY"
	case GeneralCodeTimeout:
		return "TIMEOUT"
	case GeneralCodeNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// ProtocolCode is a Secure Channel specific status code (Table 19).
type ProtocolCode uint16

const (
	ProtocolCodeSessionEstablished ProtocolCode = 0x0000
	ProtocolCodeNoSharedRoot       ProtocolCode = 0x0001
	ProtocolCodeInvalidParam       ProtocolCode = 0x0002
	ProtocolCodeCloseSession       ProtocolCode = 0x0003
	ProtocolCodeBusy               ProtocolCode = 0x0004
)

// String returns the protocol code name.
func (p ProtocolCode) String() string {
	switch p {
	case ProtocolCodeSessionEstablished:
		return "SESSION_ESTABLISHMENT_SUCCESS"
	case ProtocolCodeNoSharedRoot:
		return "NO_SHARED_TRUST_ROOTS"
	case ProtocolCodeInvalidParam:
		return "INVALID_PARAMETER"
	case ProtocolCodeCloseSession:
		return "CLOSE_SESSION"
	case ProtocolCodeBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

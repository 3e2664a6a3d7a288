package securechannel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// statusReportHeaderSize covers GeneralCode(2) + ProtocolID(4) +
// ProtocolCode(2). Anything beyond is protocol-specific data.
const statusReportHeaderSize = 8

var ErrStatusReportTooShort = errors.New("securechannel: status report too short")

// StatusReport is the payload of a StatusReport message. All header
// fields are little-endian on the wire.
type StatusReport struct {
	GeneralCode  GeneralCode
	ProtocolID   uint32
	ProtocolCode ProtocolCode
	ProtocolData []byte
}

func newStatusReport(general GeneralCode, code ProtocolCode) *StatusReport {
	return &StatusReport{
		GeneralCode:  general,
		ProtocolID:   uint32(ProtocolID),
		ProtocolCode: code,
	}
}

// SessionEstablished reports successful session establishment.
func SessionEstablished() *StatusReport {
	return newStatusReport(GeneralCodeSuccess, ProtocolCodeSessionEstablished)
}

// InvalidParam reports a malformed or unverifiable handshake message.
func InvalidParam() *StatusReport {
	return newStatusReport(GeneralCodeFailure, ProtocolCodeInvalidParam)
}

// NoSharedRoot reports that no fabric matched the destination identifier.
func NoSharedRoot() *StatusReport {
	return newStatusReport(GeneralCodeFailure, ProtocolCodeNoSharedRoot)
}

// Busy asks the peer to retry after waitTimeMs milliseconds.
func Busy(waitTimeMs uint16) *StatusReport {
	s := newStatusReport(GeneralCodeBusy, ProtocolCodeBusy)
	s.ProtocolData = binary.LittleEndian.AppendUint16(nil, waitTimeMs)
	return s
}

// CloseSession signals orderly teardown of an established session.
func CloseSession() *StatusReport {
	return newStatusReport(GeneralCodeSuccess, ProtocolCodeCloseSession)
}

// Encode serializes the report.
func (s *StatusReport) Encode() []byte {
	buf := make([]byte, statusReportHeaderSize, statusReportHeaderSize+len(s.ProtocolData))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(s.GeneralCode))
	binary.LittleEndian.PutUint32(buf[2:6], s.ProtocolID)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(s.ProtocolCode))
	return append(buf, s.ProtocolData...)
}

// DecodeStatusReport parses a StatusReport payload.
func DecodeStatusReport(data []byte) (*StatusReport, error) {
	if len(data) < statusReportHeaderSize {
		return nil, ErrStatusReportTooShort
	}

	s := &StatusReport{
		GeneralCode:  GeneralCode(binary.LittleEndian.Uint16(data[0:2])),
		ProtocolID:   binary.LittleEndian.Uint32(data[2:6]),
		ProtocolCode: ProtocolCode(binary.LittleEndian.Uint16(data[6:8])),
	}
	if len(data) > statusReportHeaderSize {
		s.ProtocolData = append([]byte(nil), data[statusReportHeaderSize:]...)
	}
	return s, nil
}

// IsSessionEstablished reports whether this is the success status that
// completes a handshake.
func (s *StatusReport) IsSessionEstablished() bool {
	return s.GeneralCode == GeneralCodeSuccess &&
		s.ProtocolID == uint32(ProtocolID) &&
		s.ProtocolCode == ProtocolCodeSessionEstablished
}

// IsBusy reports whether the peer asked for a retry.
func (s *StatusReport) IsBusy() bool {
	return s.GeneralCode == GeneralCodeBusy &&
		s.ProtocolID == uint32(ProtocolID) &&
		s.ProtocolCode == ProtocolCodeBusy
}

// BusyWaitTime returns the requested wait in milliseconds for a busy
// status, or 0 when the report is not busy or carries no wait time.
func (s *StatusReport) BusyWaitTime() uint16 {
	if !s.IsBusy() || len(s.ProtocolData) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(s.ProtocolData)
}

// IsCloseSession reports whether the peer requested session teardown.
func (s *StatusReport) IsCloseSession() bool {
	return s.GeneralCode == GeneralCodeSuccess &&
		s.ProtocolID == uint32(ProtocolID) &&
		s.ProtocolCode == ProtocolCodeCloseSession
}

// String returns a human-readable representation.
func (s *StatusReport) String() string {
	if s.ProtocolID == uint32(ProtocolID) {
		return fmt.Sprintf("StatusReport{%s, SecureChannel, %s}", s.GeneralCode, s.ProtocolCode)
	}
	return fmt.Sprintf("StatusReport{%s, ProtocolID: 0x%08X, Code: 0x%04X}",
		s.GeneralCode, s.ProtocolID, uint16(s.ProtocolCode))
}

// Error implements error so a failure status can be surfaced directly.
func (s *StatusReport) Error() string {
	return s.String()
}

package casesession

import (
	"fmt"
	"math"

	"github.com/opmesh/casekit/pkg/crypto"
	"github.com/opmesh/casekit/pkg/tlv"
)

// TLV context tags for CASE messages. Senders write fields in strictly
// ascending tag order; the decoder rejects any deviation.
const (
	// Sigma1 tags
	tagSigma1InitiatorRandom        = 1
	tagSigma1InitiatorSessionID     = 2
	tagSigma1DestinationID          = 3
	tagSigma1InitiatorEphPubKey     = 4
	tagSigma1InitiatorSessionParams = 5
	tagSigma1ResumptionID           = 6
	tagSigma1ResumeMIC              = 7

	// Sigma2 tags
	tagSigma2ResponderRandom        = 1
	tagSigma2ResponderSessionID     = 2
	tagSigma2ResponderEphPubKey     = 3
	tagSigma2Encrypted2             = 4
	tagSigma2ResponderSessionParams = 5

	// Sigma3 tags
	tagSigma3Encrypted3 = 1

	// Sigma2Resume tags
	tagSigma2ResumeResumptionID        = 1
	tagSigma2ResumeMIC                 = 2
	tagSigma2ResumeResponderSessionID  = 3
	tagSigma2ResumeResponderSessParams = 4

	// TBEData2 tags (decrypted content of encrypted2)
	tagTBEData2ResponderNOC  = 1
	tagTBEData2ResponderICAC = 2
	tagTBEData2Signature     = 3
	tagTBEData2ResumptionID  = 4

	// TBSData2 tags (signed but never transmitted)
	tagTBSData2ResponderNOC       = 1
	tagTBSData2ResponderICAC      = 2
	tagTBSData2ResponderEphPubKey = 3
	tagTBSData2InitiatorEphPubKey = 4

	// TBEData3 tags (decrypted content of encrypted3)
	tagTBEData3InitiatorNOC  = 1
	tagTBEData3InitiatorICAC = 2
	tagTBEData3Signature     = 3

	// TBSData3 tags (signed but never transmitted)
	tagTBSData3InitiatorNOC       = 1
	tagTBSData3InitiatorICAC      = 2
	tagTBSData3InitiatorEphPubKey = 3
	tagTBSData3ResponderEphPubKey = 4
)

// Session parameter (MRP) tags.
const (
	tagMRPIdleRetrans   = 1
	tagMRPActiveRetrans = 2
	tagMRPActiveThresh  = 4
)

// MRPParameters are opaque reliability timing hints advertised during
// establishment. They are carried and surfaced but not interpreted here.
type MRPParameters struct {
	IdleRetransTimeout   uint32 // ms, 0 = not present
	ActiveRetransTimeout uint32 // ms, 0 = not present
	ActiveThreshold      uint16 // ms, 0 = not present
}

// Sigma1 is the first message, sent by the initiator.
type Sigma1 struct {
	InitiatorRandom    [RandomSize]byte
	InitiatorSessionID uint16
	DestinationID      [DestinationIDSize]byte
	InitiatorEphPubKey [crypto.PublicKeySize]byte
	MRPParams          *MRPParameters

	// Resumption fields, both present or both absent.
	ResumptionID *[ResumptionIDSize]byte
	ResumeMIC    *[MICSize]byte
}

// HasResumption reports whether both resumption fields are present.
func (s *Sigma1) HasResumption() bool {
	return s.ResumptionID != nil && s.ResumeMIC != nil
}

// Encode serializes the Sigma1 to TLV bytes.
func (s *Sigma1) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())

	enc.PutBytes(tlv.ContextTag(tagSigma1InitiatorRandom), s.InitiatorRandom[:])
	putSessionID(enc, tagSigma1InitiatorSessionID, s.InitiatorSessionID)
	enc.PutBytes(tlv.ContextTag(tagSigma1DestinationID), s.DestinationID[:])
	enc.PutBytes(tlv.ContextTag(tagSigma1InitiatorEphPubKey), s.InitiatorEphPubKey[:])

	if s.MRPParams != nil {
		if err := encodeMRPParams(enc, tagSigma1InitiatorSessionParams, s.MRPParams); err != nil {
			return nil, err
		}
	}
	if s.ResumptionID != nil {
		enc.PutBytes(tlv.ContextTag(tagSigma1ResumptionID), s.ResumptionID[:])
	}
	if s.ResumeMIC != nil {
		enc.PutBytes(tlv.ContextTag(tagSigma1ResumeMIC), s.ResumeMIC[:])
	}

	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// DecodeSigma1 parses a Sigma1 from TLV bytes.
func DecodeSigma1(data []byte) (*Sigma1, error) {
	d := tlv.NewDecoder(data)
	if err := openMessage(d); err != nil {
		return nil, err
	}

	s := &Sigma1{}
	var hasRandom, hasSessionID, hasDestID, hasEphPubKey bool

	for {
		n, done, err := nextMember(d)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		switch n {
		case tagSigma1InitiatorRandom:
			if err := fixedBytes(d, s.InitiatorRandom[:]); err != nil {
				return nil, err
			}
			hasRandom = true

		case tagSigma1InitiatorSessionID:
			v, err := sessionID(d)
			if err != nil {
				return nil, err
			}
			s.InitiatorSessionID = v
			hasSessionID = true

		case tagSigma1DestinationID:
			if err := fixedBytes(d, s.DestinationID[:]); err != nil {
				return nil, err
			}
			hasDestID = true

		case tagSigma1InitiatorEphPubKey:
			if err := fixedBytes(d, s.InitiatorEphPubKey[:]); err != nil {
				return nil, err
			}
			hasEphPubKey = true

		case tagSigma1InitiatorSessionParams:
			mrp, err := decodeMRPParams(d)
			if err != nil {
				return nil, err
			}
			s.MRPParams = mrp

		case tagSigma1ResumptionID:
			s.ResumptionID = new([ResumptionIDSize]byte)
			if err := fixedBytes(d, s.ResumptionID[:]); err != nil {
				return nil, err
			}

		case tagSigma1ResumeMIC:
			s.ResumeMIC = new([MICSize]byte)
			if err := fixedBytes(d, s.ResumeMIC[:]); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidMessage, n)
		}
	}

	if !hasRandom || !hasSessionID || !hasDestID || !hasEphPubKey {
		return nil, ErrInvalidMessage
	}
	if (s.ResumptionID != nil) != (s.ResumeMIC != nil) {
		return nil, ErrMissingResumptionField
	}
	if err := closeMessage(d); err != nil {
		return nil, err
	}
	return s, nil
}

// Sigma2 is the second message, sent by the responder.
type Sigma2 struct {
	ResponderRandom    [RandomSize]byte
	ResponderSessionID uint16
	ResponderEphPubKey [crypto.PublicKeySize]byte
	Encrypted2         []byte // TBEData2 protected with S2K
	MRPParams          *MRPParameters
}

// Encode serializes the Sigma2 to TLV bytes.
func (s *Sigma2) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())

	enc.PutBytes(tlv.ContextTag(tagSigma2ResponderRandom), s.ResponderRandom[:])
	putSessionID(enc, tagSigma2ResponderSessionID, s.ResponderSessionID)
	enc.PutBytes(tlv.ContextTag(tagSigma2ResponderEphPubKey), s.ResponderEphPubKey[:])
	enc.PutBytes(tlv.ContextTag(tagSigma2Encrypted2), s.Encrypted2)

	if s.MRPParams != nil {
		if err := encodeMRPParams(enc, tagSigma2ResponderSessionParams, s.MRPParams); err != nil {
			return nil, err
		}
	}

	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// DecodeSigma2 parses a Sigma2 from TLV bytes.
func DecodeSigma2(data []byte) (*Sigma2, error) {
	d := tlv.NewDecoder(data)
	if err := openMessage(d); err != nil {
		return nil, err
	}

	s := &Sigma2{}
	var hasRandom, hasSessionID, hasEphPubKey, hasEncrypted2 bool

	for {
		n, done, err := nextMember(d)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		switch n {
		case tagSigma2ResponderRandom:
			if err := fixedBytes(d, s.ResponderRandom[:]); err != nil {
				return nil, err
			}
			hasRandom = true

		case tagSigma2ResponderSessionID:
			v, err := sessionID(d)
			if err != nil {
				return nil, err
			}
			s.ResponderSessionID = v
			hasSessionID = true

		case tagSigma2ResponderEphPubKey:
			if err := fixedBytes(d, s.ResponderEphPubKey[:]); err != nil {
				return nil, err
			}
			hasEphPubKey = true

		case tagSigma2Encrypted2:
			b, err := d.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
			if len(b) <= crypto.AEADTagSize {
				return nil, ErrInvalidMessage
			}
			s.Encrypted2 = append([]byte(nil), b...)
			hasEncrypted2 = true

		case tagSigma2ResponderSessionParams:
			mrp, err := decodeMRPParams(d)
			if err != nil {
				return nil, err
			}
			s.MRPParams = mrp

		default:
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidMessage, n)
		}
	}

	if !hasRandom || !hasSessionID || !hasEphPubKey || !hasEncrypted2 {
		return nil, ErrInvalidMessage
	}
	if err := closeMessage(d); err != nil {
		return nil, err
	}
	return s, nil
}

// Sigma3 is the third message, sent by the initiator.
type Sigma3 struct {
	Encrypted3 []byte // TBEData3 protected with S3K
}

// Encode serializes the Sigma3 to TLV bytes.
func (s *Sigma3) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())
	enc.PutBytes(tlv.ContextTag(tagSigma3Encrypted3), s.Encrypted3)
	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// DecodeSigma3 parses a Sigma3 from TLV bytes.
func DecodeSigma3(data []byte) (*Sigma3, error) {
	d := tlv.NewDecoder(data)
	if err := openMessage(d); err != nil {
		return nil, err
	}

	s := &Sigma3{}
	for {
		n, done, err := nextMember(d)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		if n != tagSigma3Encrypted3 {
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidMessage, n)
		}
		b, err := d.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if len(b) <= crypto.AEADTagSize {
			return nil, ErrInvalidMessage
		}
		s.Encrypted3 = append([]byte(nil), b...)
	}

	if s.Encrypted3 == nil {
		return nil, ErrInvalidMessage
	}
	if err := closeMessage(d); err != nil {
		return nil, err
	}
	return s, nil
}

// Sigma2Resume is the responder's answer on the abbreviated path.
type Sigma2Resume struct {
	ResumptionID       [ResumptionIDSize]byte
	ResumeMIC          [MICSize]byte
	ResponderSessionID uint16
	MRPParams          *MRPParameters
}

// Encode serializes the Sigma2Resume to TLV bytes.
func (s *Sigma2Resume) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())

	enc.PutBytes(tlv.ContextTag(tagSigma2ResumeResumptionID), s.ResumptionID[:])
	enc.PutBytes(tlv.ContextTag(tagSigma2ResumeMIC), s.ResumeMIC[:])
	putSessionID(enc, tagSigma2ResumeResponderSessionID, s.ResponderSessionID)

	if s.MRPParams != nil {
		if err := encodeMRPParams(enc, tagSigma2ResumeResponderSessParams, s.MRPParams); err != nil {
			return nil, err
		}
	}

	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// DecodeSigma2Resume parses a Sigma2Resume from TLV bytes.
func DecodeSigma2Resume(data []byte) (*Sigma2Resume, error) {
	d := tlv.NewDecoder(data)
	if err := openMessage(d); err != nil {
		return nil, err
	}

	s := &Sigma2Resume{}
	var hasResumptionID, hasMIC, hasSessionID bool

	for {
		n, done, err := nextMember(d)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		switch n {
		case tagSigma2ResumeResumptionID:
			if err := fixedBytes(d, s.ResumptionID[:]); err != nil {
				return nil, err
			}
			hasResumptionID = true

		case tagSigma2ResumeMIC:
			if err := fixedBytes(d, s.ResumeMIC[:]); err != nil {
				return nil, err
			}
			hasMIC = true

		case tagSigma2ResumeResponderSessionID:
			v, err := sessionID(d)
			if err != nil {
				return nil, err
			}
			s.ResponderSessionID = v
			hasSessionID = true

		case tagSigma2ResumeResponderSessParams:
			mrp, err := decodeMRPParams(d)
			if err != nil {
				return nil, err
			}
			s.MRPParams = mrp

		default:
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidMessage, n)
		}
	}

	if !hasResumptionID || !hasMIC || !hasSessionID {
		return nil, ErrInvalidMessage
	}
	if err := closeMessage(d); err != nil {
		return nil, err
	}
	return s, nil
}

// TBEData2 is the decrypted content of Sigma2.Encrypted2.
type TBEData2 struct {
	ResponderNOC  []byte
	ResponderICAC []byte // nil when the chain has no intermediate
	Signature     [crypto.SignatureSize]byte
	ResumptionID  [ResumptionIDSize]byte
}

// Encode serializes TBEData2 to TLV bytes.
func (t *TBEData2) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())

	enc.PutBytes(tlv.ContextTag(tagTBEData2ResponderNOC), t.ResponderNOC)
	if len(t.ResponderICAC) > 0 {
		enc.PutBytes(tlv.ContextTag(tagTBEData2ResponderICAC), t.ResponderICAC)
	}
	enc.PutBytes(tlv.ContextTag(tagTBEData2Signature), t.Signature[:])
	enc.PutBytes(tlv.ContextTag(tagTBEData2ResumptionID), t.ResumptionID[:])

	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// DecodeTBEData2 parses TBEData2 from TLV bytes.
func DecodeTBEData2(data []byte) (*TBEData2, error) {
	d := tlv.NewDecoder(data)
	if err := openMessage(d); err != nil {
		return nil, err
	}

	t := &TBEData2{}
	var hasNOC, hasSignature, hasResumptionID bool

	for {
		n, done, err := nextMember(d)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		switch n {
		case tagTBEData2ResponderNOC:
			b, err := d.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
			t.ResponderNOC = append([]byte(nil), b...)
			hasNOC = true

		case tagTBEData2ResponderICAC:
			b, err := d.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
			t.ResponderICAC = append([]byte(nil), b...)

		case tagTBEData2Signature:
			if err := fixedBytes(d, t.Signature[:]); err != nil {
				return nil, err
			}
			hasSignature = true

		case tagTBEData2ResumptionID:
			if err := fixedBytes(d, t.ResumptionID[:]); err != nil {
				return nil, err
			}
			hasResumptionID = true

		default:
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidMessage, n)
		}
	}

	if !hasNOC || !hasSignature || !hasResumptionID {
		return nil, ErrInvalidMessage
	}
	if err := closeMessage(d); err != nil {
		return nil, err
	}
	return t, nil
}

// TBSData2 is the responder's to-be-signed structure. It is never
// transmitted; signer and verifier both reconstruct it. An absent ICAC is an
// omitted field, not an empty one.
type TBSData2 struct {
	ResponderNOC       []byte
	ResponderICAC      []byte
	ResponderEphPubKey [crypto.PublicKeySize]byte
	InitiatorEphPubKey [crypto.PublicKeySize]byte
}

// Encode serializes TBSData2 to TLV bytes for signing.
func (t *TBSData2) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())

	enc.PutBytes(tlv.ContextTag(tagTBSData2ResponderNOC), t.ResponderNOC)
	if len(t.ResponderICAC) > 0 {
		enc.PutBytes(tlv.ContextTag(tagTBSData2ResponderICAC), t.ResponderICAC)
	}
	enc.PutBytes(tlv.ContextTag(tagTBSData2ResponderEphPubKey), t.ResponderEphPubKey[:])
	enc.PutBytes(tlv.ContextTag(tagTBSData2InitiatorEphPubKey), t.InitiatorEphPubKey[:])

	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// TBEData3 is the decrypted content of Sigma3.Encrypted3.
type TBEData3 struct {
	InitiatorNOC  []byte
	InitiatorICAC []byte // nil when the chain has no intermediate
	Signature     [crypto.SignatureSize]byte
}

// Encode serializes TBEData3 to TLV bytes.
func (t *TBEData3) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())

	enc.PutBytes(tlv.ContextTag(tagTBEData3InitiatorNOC), t.InitiatorNOC)
	if len(t.InitiatorICAC) > 0 {
		enc.PutBytes(tlv.ContextTag(tagTBEData3InitiatorICAC), t.InitiatorICAC)
	}
	enc.PutBytes(tlv.ContextTag(tagTBEData3Signature), t.Signature[:])

	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// DecodeTBEData3 parses TBEData3 from TLV bytes.
func DecodeTBEData3(data []byte) (*TBEData3, error) {
	d := tlv.NewDecoder(data)
	if err := openMessage(d); err != nil {
		return nil, err
	}

	t := &TBEData3{}
	var hasNOC, hasSignature bool

	for {
		n, done, err := nextMember(d)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		switch n {
		case tagTBEData3InitiatorNOC:
			b, err := d.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
			t.InitiatorNOC = append([]byte(nil), b...)
			hasNOC = true

		case tagTBEData3InitiatorICAC:
			b, err := d.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
			}
			t.InitiatorICAC = append([]byte(nil), b...)

		case tagTBEData3Signature:
			if err := fixedBytes(d, t.Signature[:]); err != nil {
				return nil, err
			}
			hasSignature = true

		default:
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidMessage, n)
		}
	}

	if !hasNOC || !hasSignature {
		return nil, ErrInvalidMessage
	}
	if err := closeMessage(d); err != nil {
		return nil, err
	}
	return t, nil
}

// TBSData3 is the initiator's to-be-signed structure. Like TBSData2 it is
// reconstructed locally by both sides and never crosses the wire.
type TBSData3 struct {
	InitiatorNOC       []byte
	InitiatorICAC      []byte
	InitiatorEphPubKey [crypto.PublicKeySize]byte
	ResponderEphPubKey [crypto.PublicKeySize]byte
}

// Encode serializes TBSData3 to TLV bytes for signing.
func (t *TBSData3) Encode() ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())

	enc.PutBytes(tlv.ContextTag(tagTBSData3InitiatorNOC), t.InitiatorNOC)
	if len(t.InitiatorICAC) > 0 {
		enc.PutBytes(tlv.ContextTag(tagTBSData3InitiatorICAC), t.InitiatorICAC)
	}
	enc.PutBytes(tlv.ContextTag(tagTBSData3InitiatorEphPubKey), t.InitiatorEphPubKey[:])
	enc.PutBytes(tlv.ContextTag(tagTBSData3ResponderEphPubKey), t.ResponderEphPubKey[:])

	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

// Decode helpers.

// openMessage positions the decoder inside the top-level structure.
func openMessage(d *tlv.Decoder) error {
	if err := d.Next(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !d.IsStructure() {
		return ErrInvalidMessage
	}
	if err := d.EnterStructure(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// closeMessage rejects trailing octets after the top-level end marker.
func closeMessage(d *tlv.Decoder) error {
	if d.Remaining() != 0 {
		return ErrInvalidMessage
	}
	return nil
}

// nextMember advances to the next structure member and returns its context
// tag number, or done at the end marker. Tag-order violations surface here.
func nextMember(d *tlv.Decoder) (uint8, bool, error) {
	err := d.Next()
	if err == tlv.ErrEndOfContainer {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	tag, err := d.Tag()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return tag.Number(), false, nil
}

// fixedBytes reads an octet string whose length must match dst exactly.
func fixedBytes(d *tlv.Decoder, dst []byte) error {
	b, err := d.Bytes()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%w: field length %d, want %d", ErrInvalidMessage, len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

// putSessionID writes a session identifier with a fixed two-octet width.
func putSessionID(enc *tlv.Encoder, tag uint8, id uint16) {
	enc.PutUintWithWidth(tlv.ContextTag(tag), uint64(id), 2)
}

// sessionID reads a session identifier.
func sessionID(d *tlv.Decoder) (uint16, error) {
	v, err := d.Uint()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if v > math.MaxUint16 {
		return 0, ErrInvalidMessage
	}
	return uint16(v), nil
}

func encodeMRPParams(enc *tlv.Encoder, tag uint8, p *MRPParameters) error {
	enc.StartStructure(tlv.ContextTag(tag))
	if p.IdleRetransTimeout != 0 {
		enc.PutUint(tlv.ContextTag(tagMRPIdleRetrans), uint64(p.IdleRetransTimeout))
	}
	if p.ActiveRetransTimeout != 0 {
		enc.PutUint(tlv.ContextTag(tagMRPActiveRetrans), uint64(p.ActiveRetransTimeout))
	}
	if p.ActiveThreshold != 0 {
		enc.PutUint(tlv.ContextTag(tagMRPActiveThresh), uint64(p.ActiveThreshold))
	}
	return enc.EndStructure()
}

func decodeMRPParams(d *tlv.Decoder) (*MRPParameters, error) {
	if !d.IsStructure() {
		return nil, ErrInvalidMessage
	}
	if err := d.EnterStructure(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	p := &MRPParameters{}
	for {
		n, done, err := nextMember(d)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}

		v, err := d.Uint()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		switch n {
		case tagMRPIdleRetrans:
			if v > math.MaxUint32 {
				return nil, ErrInvalidMessage
			}
			p.IdleRetransTimeout = uint32(v)
		case tagMRPActiveRetrans:
			if v > math.MaxUint32 {
				return nil, ErrInvalidMessage
			}
			p.ActiveRetransTimeout = uint32(v)
		case tagMRPActiveThresh:
			if v > math.MaxUint16 {
				return nil, ErrInvalidMessage
			}
			p.ActiveThreshold = uint16(v)
		default:
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrInvalidMessage, n)
		}
	}
	return p, nil
}

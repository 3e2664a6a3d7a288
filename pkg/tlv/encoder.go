package tlv

import (
	"encoding/binary"
	"math"
)

// Encoder builds a TLV byte string in memory.
type Encoder struct {
	buf   []byte
	depth int
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// StartStructure opens a structure with the given tag.
func (e *Encoder) StartStructure(tag Tag) {
	e.putControlAndTag(typeStruct, tag)
	e.depth++
}

// EndStructure closes the innermost open structure.
func (e *Encoder) EndStructure() error {
	if e.depth == 0 {
		return ErrNotInContainer
	}
	e.depth--
	e.buf = append(e.buf, byte(typeEnd))
	return nil
}

// PutUint writes an unsigned integer using the minimum width that
// holds the value.
func (e *Encoder) PutUint(tag Tag, v uint64) {
	switch {
	case v <= math.MaxUint8:
		e.PutUintWithWidth(tag, v, 1)
	case v <= math.MaxUint16:
		e.PutUintWithWidth(tag, v, 2)
	case v <= math.MaxUint32:
		e.PutUintWithWidth(tag, v, 4)
	default:
		e.PutUintWithWidth(tag, v, 8)
	}
}

// PutUintWithWidth writes an unsigned integer with a fixed width of
// 1, 2, 4 or 8 octets. Other widths panic; widths are compile-time
// constants at every call site.
func (e *Encoder) PutUintWithWidth(tag Tag, v uint64, width int) {
	switch width {
	case 1:
		e.putControlAndTag(typeUInt8, tag)
		e.buf = append(e.buf, byte(v))
	case 2:
		e.putControlAndTag(typeUInt16, tag)
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v))
	case 4:
		e.putControlAndTag(typeUInt32, tag)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
	case 8:
		e.putControlAndTag(typeUInt64, tag)
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	default:
		panic("tlv: invalid uint width")
	}
}

// PutBytes writes an octet string. The length field uses the minimum
// width that holds the length.
func (e *Encoder) PutBytes(tag Tag, v []byte) {
	switch {
	case len(v) <= math.MaxUint8:
		e.putControlAndTag(typeBytes1, tag)
		e.buf = append(e.buf, byte(len(v)))
	case len(v) <= math.MaxUint16:
		e.putControlAndTag(typeBytes2, tag)
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(len(v)))
	default:
		e.putControlAndTag(typeBytes4, tag)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(v)))
	}
	e.buf = append(e.buf, v...)
}

// Bytes returns the encoded TLV. It fails if a structure is still open.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.depth != 0 {
		return nil, ErrContainerNotClosed
	}
	return e.buf, nil
}

func (e *Encoder) putControlAndTag(et elemType, tag Tag) {
	e.buf = append(e.buf, controlOctet(et, tag))
	if tag.context {
		e.buf = append(e.buf, tag.number)
	}
}

package tlv

import (
	"encoding/binary"
	"io"
)

// Decoder reads TLV elements from a byte string.
//
// Structure members are validated while reading: every member must
// carry a context tag, and tag numbers must be strictly ascending.
// Malformed element types, out-of-order tags and truncated values all
// fail the Next call that encounters them.
type Decoder struct {
	data []byte
	pos  int

	hasElem bool
	et      elemType
	tag     Tag
	val     []byte // value octets for uints and byte strings

	// Last context tag number seen at each open structure depth.
	// -1 means no member read yet.
	lastTag []int
}

// NewDecoder returns a Decoder over data. The slice is not copied.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Next advances to the next element. It returns io.EOF at the end of
// the input and ErrEndOfContainer at a structure's end marker.
func (d *Decoder) Next() error {
	d.hasElem = false

	if d.pos >= len(d.data) {
		return io.EOF
	}

	ctrl := d.data[d.pos]
	d.pos++

	et := elemType(ctrl & 0x1f)
	tagCtrl := ctrl >> 5

	if et == typeEnd {
		if tagCtrl != tagCtrlAnonymous {
			return ErrInvalidTagControl
		}
		if len(d.lastTag) == 0 {
			return ErrNotInContainer
		}
		d.lastTag = d.lastTag[:len(d.lastTag)-1]
		return ErrEndOfContainer
	}

	if !et.isUint() && !et.isBytes() && et != typeStruct {
		return ErrInvalidElementType
	}

	var tag Tag
	switch tagCtrl {
	case tagCtrlAnonymous:
		tag = Anonymous()
	case tagCtrlContext:
		if d.pos >= len(d.data) {
			return ErrTruncated
		}
		tag = ContextTag(d.data[d.pos])
		d.pos++
	default:
		return ErrInvalidTagControl
	}

	if err := d.checkTagOrder(tag); err != nil {
		return err
	}

	if err := d.readValue(et); err != nil {
		return err
	}

	d.hasElem = true
	d.et = et
	d.tag = tag
	return nil
}

// checkTagOrder enforces the tagging rules for the current depth.
func (d *Decoder) checkTagOrder(tag Tag) error {
	if len(d.lastTag) == 0 {
		if tag.IsContext() {
			return ErrInvalidTagControl
		}
		return nil
	}

	if !tag.IsContext() {
		return ErrAnonymousInStruct
	}
	last := &d.lastTag[len(d.lastTag)-1]
	if int(tag.Number()) <= *last {
		return ErrTagOrder
	}
	*last = int(tag.Number())
	return nil
}

func (d *Decoder) readValue(et elemType) error {
	switch et {
	case typeUInt8, typeUInt16, typeUInt32, typeUInt64:
		size := 1 << (et - typeUInt8)
		return d.take(size)

	case typeBytes1, typeBytes2, typeBytes4:
		lenSize := 1 << (et - typeBytes1)
		if err := d.take(lenSize); err != nil {
			return err
		}
		var n int
		switch lenSize {
		case 1:
			n = int(d.val[0])
		case 2:
			n = int(binary.LittleEndian.Uint16(d.val))
		case 4:
			n = int(binary.LittleEndian.Uint32(d.val))
		}
		return d.take(n)

	case typeStruct:
		d.val = nil
		return nil
	}
	return ErrInvalidElementType
}

// take slices n value octets out of the input.
func (d *Decoder) take(n int) error {
	if n < 0 || d.pos+n > len(d.data) {
		return ErrTruncated
	}
	d.val = d.data[d.pos : d.pos+n]
	d.pos += n
	return nil
}

// Tag returns the tag of the current element.
func (d *Decoder) Tag() (Tag, error) {
	if !d.hasElem {
		return Tag{}, ErrNoElement
	}
	return d.tag, nil
}

// Uint returns the current element as an unsigned integer.
func (d *Decoder) Uint() (uint64, error) {
	if !d.hasElem {
		return 0, ErrNoElement
	}
	if !d.et.isUint() {
		return 0, ErrTypeMismatch
	}
	var v uint64
	for i := len(d.val) - 1; i >= 0; i-- {
		v = v<<8 | uint64(d.val[i])
	}
	return v, nil
}

// Bytes returns the current element as an octet string. The returned
// slice aliases the decoder's input.
func (d *Decoder) Bytes() ([]byte, error) {
	if !d.hasElem {
		return nil, ErrNoElement
	}
	if !d.et.isBytes() {
		return nil, ErrTypeMismatch
	}
	return d.val, nil
}

// IsStructure reports whether the current element is a structure.
func (d *Decoder) IsStructure() bool {
	return d.hasElem && d.et == typeStruct
}

// EnterStructure descends into the current structure element.
func (d *Decoder) EnterStructure() error {
	if !d.hasElem {
		return ErrNoElement
	}
	if d.et != typeStruct {
		return ErrTypeMismatch
	}
	d.lastTag = append(d.lastTag, -1)
	d.hasElem = false
	return nil
}

// ExitStructure consumes elements up to and including the end marker
// of the innermost open structure. Next pops a structure level when it
// reaches an end marker, so this only needs to read until the depth
// drops below the level it started at.
func (d *Decoder) ExitStructure() error {
	if len(d.lastTag) == 0 {
		return ErrNotInContainer
	}

	target := len(d.lastTag) - 1
	for len(d.lastTag) > target {
		err := d.Next()
		switch err {
		case nil:
			if d.et == typeStruct {
				if err := d.EnterStructure(); err != nil {
					return err
				}
			}
		case ErrEndOfContainer:
		default:
			return err
		}
	}
	d.hasElem = false
	return nil
}

// Remaining returns the number of unread input octets.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

// Package tlv implements the subset of the Matter TLV encoding
// (Matter specification, Appendix A) used by the secure channel
// protocol: unsigned integers, octet strings and structures, with
// anonymous and context-specific tags.
package tlv

import "errors"

var (
	// ErrTruncated is returned when the input ends inside an element.
	ErrTruncated = errors.New("tlv: truncated input")

	// ErrInvalidElementType is returned for element types outside the
	// supported subset.
	ErrInvalidElementType = errors.New("tlv: invalid element type")

	// ErrInvalidTagControl is returned for tag forms outside the
	// supported subset.
	ErrInvalidTagControl = errors.New("tlv: invalid tag control")

	// ErrTypeMismatch is returned when a value is read as the wrong type.
	ErrTypeMismatch = errors.New("tlv: type mismatch")

	// ErrTagOrder is returned when context tags inside a structure are
	// not strictly ascending.
	ErrTagOrder = errors.New("tlv: context tags not strictly ascending")

	// ErrNotInContainer is returned when closing a container that was
	// never opened.
	ErrNotInContainer = errors.New("tlv: not in container")

	// ErrContainerNotClosed is returned when encoding finishes with an
	// open container.
	ErrContainerNotClosed = errors.New("tlv: container not closed")

	// ErrNoElement is returned when a value accessor is called before
	// Next positioned the decoder on an element.
	ErrNoElement = errors.New("tlv: no current element")

	// ErrEndOfContainer is returned by Next at the end of a structure.
	ErrEndOfContainer = errors.New("tlv: end of container")

	// ErrAnonymousInStruct is returned when a structure member carries
	// no context tag.
	ErrAnonymousInStruct = errors.New("tlv: anonymous tag inside structure")
)

// elemType is the element type from the lower 5 bits of the control
// octet. Only the types the secure channel encodes are accepted.
type elemType byte

const (
	typeUInt8  elemType = 0x04
	typeUInt16 elemType = 0x05
	typeUInt32 elemType = 0x06
	typeUInt64 elemType = 0x07
	typeBytes1 elemType = 0x10
	typeBytes2 elemType = 0x11
	typeBytes4 elemType = 0x12
	typeStruct elemType = 0x15
	typeEnd    elemType = 0x18
)

func (t elemType) isUint() bool {
	return t >= typeUInt8 && t <= typeUInt64
}

func (t elemType) isBytes() bool {
	return t >= typeBytes1 && t <= typeBytes4
}

// Tag control values from the upper 3 bits of the control octet.
const (
	tagCtrlAnonymous = 0
	tagCtrlContext   = 1
)

// Tag identifies a TLV element. The secure channel only uses anonymous
// tags (outermost structure) and context-specific tags (members).
type Tag struct {
	context bool
	number  uint8
}

// Anonymous returns the anonymous tag.
func Anonymous() Tag {
	return Tag{}
}

// ContextTag returns a context-specific tag with the given number.
func ContextTag(n uint8) Tag {
	return Tag{context: true, number: n}
}

// IsAnonymous reports whether the tag is anonymous.
func (t Tag) IsAnonymous() bool {
	return !t.context
}

// IsContext reports whether the tag is context-specific.
func (t Tag) IsContext() bool {
	return t.context
}

// Number returns the context tag number. It is 0 for anonymous tags.
func (t Tag) Number() uint8 {
	return t.number
}

func controlOctet(et elemType, tag Tag) byte {
	ctrl := byte(et)
	if tag.context {
		ctrl |= tagCtrlContext << 5
	}
	return ctrl
}

package crypto

import (
	"crypto/sha256"
	"encoding"
	"errors"
	"hash"
)

// Transcript errors.
var (
	// ErrTranscriptFinalized is returned when a transcript is written to or
	// finalized after Finalize has already been called.
	ErrTranscriptFinalized = errors.New("crypto: transcript already finalized")

	// ErrTranscriptNotFinalized is returned when the terminal digest is read
	// before Finalize.
	ErrTranscriptNotFinalized = errors.New("crypto: transcript not finalized")
)

// TranscriptHash accumulates a running SHA-256 digest over the raw bytes of
// every handshake message, in the order they cross the wire.
//
// Intermediate digests (needed for per-round key-derivation salts) are taken
// with CurrentDigest, which snapshots the running state without disturbing
// it. Finalize seals the transcript exactly once; any later AddMessage or
// Finalize is a programming error and fails.
type TranscriptHash struct {
	h         hash.Hash
	final     [HashSize]byte
	finalized bool
}

// NewTranscriptHash returns an empty transcript accumulator.
func NewTranscriptHash() *TranscriptHash {
	return &TranscriptHash{h: sha256.New()}
}

// AddMessage feeds the raw bytes of one handshake message into the running
// digest.
func (t *TranscriptHash) AddMessage(msg []byte) error {
	if t.finalized {
		return ErrTranscriptFinalized
	}
	t.h.Write(msg)
	return nil
}

// CurrentDigest returns the digest over everything added so far without
// terminating the transcript. The running state is cloned, so further
// AddMessage calls continue from the same point. A finalized transcript
// only serves FinalDigest.
func (t *TranscriptHash) CurrentDigest() ([HashSize]byte, error) {
	var digest [HashSize]byte
	if t.finalized {
		return digest, ErrTranscriptFinalized
	}

	// sha256.New returns a hash that round-trips through its binary
	// marshaler; cloning via marshal/unmarshal leaves t.h untouched.
	m, ok := t.h.(encoding.BinaryMarshaler)
	if !ok {
		copy(digest[:], t.h.Sum(nil))
		return digest, nil
	}
	state, err := m.MarshalBinary()
	if err != nil {
		return digest, err
	}
	clone := sha256.New()
	if err := clone.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
		return digest, err
	}
	copy(digest[:], clone.Sum(nil))
	return digest, nil
}

// Finalize seals the transcript and returns the terminal digest. It may be
// called at most once.
func (t *TranscriptHash) Finalize() ([HashSize]byte, error) {
	var digest [HashSize]byte
	if t.finalized {
		return digest, ErrTranscriptFinalized
	}
	copy(t.final[:], t.h.Sum(nil))
	t.finalized = true
	return t.final, nil
}

// FinalDigest returns the terminal digest produced by Finalize.
func (t *TranscriptHash) FinalDigest() ([HashSize]byte, error) {
	if !t.finalized {
		return [HashSize]byte{}, ErrTranscriptNotFinalized
	}
	return t.final, nil
}

// Reset wipes the accumulator back to its initial empty state, including the
// finalized digest.
func (t *TranscriptHash) Reset() {
	t.h.Reset()
	t.final = [HashSize]byte{}
	t.finalized = false
}

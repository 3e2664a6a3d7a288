package crypto

// ZeroBytes overwrites b with zeroes. Owners of secret material call this on
// every exit path.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecretBuffer owns a variable-length secret (e.g. an ECDH shared secret)
// and guarantees it is zeroed when wiped. The zero value is an empty buffer.
type SecretBuffer struct {
	b []byte
}

// NewSecretBuffer takes ownership of a copy of b.
func NewSecretBuffer(b []byte) *SecretBuffer {
	s := &SecretBuffer{b: make([]byte, len(b))}
	copy(s.b, b)
	return s
}

// Bytes exposes the secret for read access. The returned slice aliases the
// buffer; callers must not retain it past Wipe.
func (s *SecretBuffer) Bytes() []byte {
	return s.b
}

// Len returns the secret length; zero after Wipe.
func (s *SecretBuffer) Len() int {
	return len(s.b)
}

// IsEmpty reports whether no secret is held.
func (s *SecretBuffer) IsEmpty() bool {
	return len(s.b) == 0
}

// Clone returns an independently owned copy.
func (s *SecretBuffer) Clone() *SecretBuffer {
	return NewSecretBuffer(s.b)
}

// Wipe zeroes and releases the secret. Wiping twice is a no-op.
func (s *SecretBuffer) Wipe() {
	ZeroBytes(s.b)
	s.b = nil
}

package credentials

// redacted is what a Secret renders as in logs and JSON.
const redacted = "[REDACTED]"

// Secret holds sensitive bytes that can be scrubbed in place.
type Secret struct {
	b []byte
}

// NewSecret takes ownership of b.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes returns the live secret bytes. Callers must not retain copies.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the secret length.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Wipe zeroes the secret in place and forgets it.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}
	clear(s.b)
	s.b = nil
}

// String never reveals the secret.
func (s *Secret) String() string {
	return redacted
}

// MarshalJSON never reveals the secret.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

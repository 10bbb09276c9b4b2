// Package credentials loads the SSH key and the run-wide secrets shared by
// every target.
package credentials

import (
	"crypto/dsa" //nolint:staticcheck // legacy DSA keys are still accepted
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"sync"

	xssh "golang.org/x/crypto/ssh"
)

// Algorithm is the detected private key algorithm.
type Algorithm string

const (
	AlgorithmEd25519 Algorithm = "ed25519"
	AlgorithmRSA     Algorithm = "rsa"
	AlgorithmECDSA   Algorithm = "ecdsa"
	AlgorithmDSA     Algorithm = "dsa"
)

type keyProbe struct {
	algorithm Algorithm
	accepts   func(key any) bool
}

// probeOrder is the fixed priority in which key algorithms are tried.
var probeOrder = []keyProbe{
	{AlgorithmEd25519, func(key any) bool {
		switch key.(type) {
		case ed25519.PrivateKey, *ed25519.PrivateKey:
			return true
		}
		return false
	}},
	{AlgorithmRSA, func(key any) bool {
		_, ok := key.(*rsa.PrivateKey)
		return ok
	}},
	{AlgorithmECDSA, func(key any) bool {
		_, ok := key.(*ecdsa.PrivateKey)
		return ok
	}},
	{AlgorithmDSA, func(key any) bool {
		_, ok := key.(*dsa.PrivateKey)
		return ok
	}},
}

// SupportedAlgorithms returns the algorithms in probe order.
func SupportedAlgorithms() []Algorithm {
	out := make([]Algorithm, 0, len(probeOrder))
	for _, probe := range probeOrder {
		out = append(out, probe.algorithm)
	}
	return out
}

// LoadOptions controls how credential material is gathered.
type LoadOptions struct {
	// Username is the remote login user.
	Username string

	// KeyFile is the private key path.
	KeyFile string

	// KeyRequiresPassword prompts once for the key passphrase.
	KeyRequiresPassword bool

	// EscalationPassword is used as-is when set; otherwise the prompter is asked.
	EscalationPassword []byte

	// Prompter collects secrets interactively.
	Prompter Prompter
}

// Material is the credential set shared read-only by every target of a run.
// The batch coordinator owns it and calls Wipe when the run ends.
type Material struct {
	Username           string
	KeyFile            string
	Algorithm          Algorithm
	KeyPassphrase      *Secret
	EscalationPassword *Secret

	mu     sync.RWMutex
	signer xssh.Signer
	wiped  bool
}

// Load reads the private key, collecting the key passphrase and the
// escalation password at most once each.
func Load(opts LoadOptions) (*Material, error) {
	if _, err := os.Stat(opts.KeyFile); err != nil {
		return nil, &CredentialError{KeyFile: opts.KeyFile, Err: fmt.Errorf("%w: %v", ErrKeyFileMissing, err)}
	}

	material := &Material{
		Username: opts.Username,
		KeyFile:  opts.KeyFile,
	}

	if opts.KeyRequiresPassword {
		if opts.Prompter == nil {
			return nil, &CredentialError{KeyFile: opts.KeyFile, Err: ErrPassphraseRequired}
		}
		passphrase, err := opts.Prompter.ReadSecret(fmt.Sprintf("Enter password for SSH key %s: ", opts.KeyFile))
		if err != nil {
			return nil, &CredentialError{KeyFile: opts.KeyFile, Err: fmt.Errorf("passphrase prompt failed: %w", err)}
		}
		material.KeyPassphrase = NewSecret(passphrase)
	}

	signer, algorithm, err := LoadSigner(opts.KeyFile, material.KeyPassphrase.Bytes())
	if err != nil {
		material.Wipe()
		return nil, err
	}
	material.signer = signer
	material.Algorithm = algorithm

	escalation := opts.EscalationPassword
	if len(escalation) == 0 {
		if opts.Prompter == nil {
			material.Wipe()
			return nil, &CredentialError{Err: fmt.Errorf("escalation password: %w", ErrEmptySecret)}
		}
		escalation, err = opts.Prompter.ReadSecret("Enter sudo password for remote servers: ")
		if err != nil {
			material.Wipe()
			return nil, &CredentialError{Err: fmt.Errorf("escalation password prompt failed: %w", err)}
		}
	}
	if len(escalation) == 0 {
		material.Wipe()
		return nil, &CredentialError{Err: fmt.Errorf("escalation password: %w", ErrEmptySecret)}
	}
	material.EscalationPassword = NewSecret(escalation)

	return material, nil
}

// LoadSigner reads and parses a private key file. The raw key bytes are
// zeroed before returning.
func LoadSigner(path string, passphrase []byte) (xssh.Signer, Algorithm, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &CredentialError{KeyFile: path, Err: fmt.Errorf("read private key: %w", err)}
	}
	defer clear(keyBytes)

	signer, algorithm, err := ParseSigner(keyBytes, passphrase)
	if err != nil {
		return nil, "", &CredentialError{KeyFile: path, Err: err}
	}
	return signer, algorithm, nil
}

// ParseSigner parses PEM key material and detects its algorithm.
func ParseSigner(keyBytes, passphrase []byte) (xssh.Signer, Algorithm, error) {
	raw, err := xssh.ParseRawPrivateKey(keyBytes)
	if err != nil {
		var missing *xssh.PassphraseMissingError
		if !errors.As(err, &missing) {
			return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
		}
		if len(passphrase) == 0 {
			return nil, "", ErrPassphraseRequired
		}
		raw, err = xssh.ParseRawPrivateKeyWithPassphrase(keyBytes, passphrase)
		if err != nil {
			return nil, "", fmt.Errorf("parse private key with passphrase: %w", err)
		}
	}

	algorithm, ok := detectAlgorithm(raw)
	if !ok {
		return nil, "", fmt.Errorf("%w: unsupported key type %T", ErrUnsupportedKey, raw)
	}

	signer, err := xssh.NewSignerFromKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	return signer, algorithm, nil
}

func detectAlgorithm(key any) (Algorithm, bool) {
	for _, probe := range probeOrder {
		if probe.accepts(key) {
			return probe.algorithm, true
		}
	}
	return "", false
}

// NewMaterial builds material from an already parsed signer.
func NewMaterial(username string, signer xssh.Signer, escalationPassword []byte) *Material {
	return &Material{
		Username:           username,
		EscalationPassword: NewSecret(escalationPassword),
		signer:             signer,
	}
}

// Signer returns the key handle, or ErrWiped after Wipe.
func (m *Material) Signer() (xssh.Signer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.wiped || m.signer == nil {
		return nil, ErrWiped
	}
	return m.signer, nil
}

// AuthMethod returns a public key auth method backed by the loaded key.
func (m *Material) AuthMethod() (xssh.AuthMethod, error) {
	signer, err := m.Signer()
	if err != nil {
		return nil, err
	}
	return xssh.PublicKeys(signer), nil
}

// Wipe scrubs every secret and drops the key handle. Safe to call more than once.
func (m *Material) Wipe() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.KeyPassphrase.Wipe()
	m.EscalationPassword.Wipe()
	m.signer = nil
	m.wiped = true
}

// Wiped reports whether Wipe has run.
func (m *Material) Wiped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wiped
}

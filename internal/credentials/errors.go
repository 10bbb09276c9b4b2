package credentials

import (
	"errors"
	"fmt"
)

var (
	ErrPassphraseRequired = errors.New("passphrase required for private key; set ssh.key_requires_password: true")
	ErrUnsupportedKey     = errors.New("unable to determine the type of the private key or key is invalid")
	ErrKeyFileMissing     = errors.New("private key file not found")
	ErrEmptySecret        = errors.New("secret must not be empty")
	ErrWiped              = errors.New("credential material already wiped")
)

// CredentialError is fatal for the whole run: a bad key or a missing
// passphrase affects every target the same way.
type CredentialError struct {
	KeyFile string
	Err     error
}

func (e *CredentialError) Error() string {
	if e.KeyFile == "" {
		return fmt.Sprintf("credential error: %v", e.Err)
	}
	return fmt.Sprintf("credential error (%s): %v", e.KeyFile, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

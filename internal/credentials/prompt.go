package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrNotTerminal is returned when a secret must be typed but stdin is not a TTY.
var ErrNotTerminal = errors.New("stdin is not a terminal")

// Prompter collects one secret from the operator.
type Prompter interface {
	ReadSecret(label string) ([]byte, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(label string) ([]byte, error)

// ReadSecret calls f.
func (f PrompterFunc) ReadSecret(label string) ([]byte, error) {
	return f(label)
}

// TerminalPrompter reads secrets from a terminal without echoing input.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads from stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// ReadSecret prints label and reads a line with echo disabled.
func (p *TerminalPrompter) ReadSecret(label string) ([]byte, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}

	fmt.Fprint(p.Out, label)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return nil, err
	}
	return secret, nil
}

package testutil

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// FakeShell imitates a login shell that runs the Ceph collection script
// under sudo.
type FakeShell struct {
	Banner       string
	Prompt       string
	Password     string
	ScriptOutput []string
	Marker       string

	// NeverPrompt keeps the shell silent after login.
	NeverPrompt bool

	// AskTwice repeats the sudo password request once after the first
	// answer without waiting for another reply.
	AskTwice bool

	// Hang stops the script before printing the completion marker.
	Hang bool

	// OnRun is invoked when the script starts.
	OnRun func()

	mu    sync.Mutex
	lines []string
}

// NewFakeShell returns a shell with a typical prompt and completion marker.
func NewFakeShell(password string) *FakeShell {
	return &FakeShell{
		Banner:       "Last login: Mon Jan  1 00:00:00 2024 from 10.0.0.1\r\n",
		Prompt:       "\x1b[01;32mceph-admin@node\x1b[00m:~$ ",
		Password:     password,
		ScriptOutput: []string{"Collecting cluster status...", "Collecting OSD tree..."},
		Marker:       "Results saved to ceph-details-output-node.md",
	}
}

// Lines returns every line received from the client.
func (f *FakeShell) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// PasswordCount returns how many times the password was typed.
func (f *FakeShell) PasswordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, line := range f.lines {
		if line == f.Password {
			count++
		}
	}
	return count
}

// Serve implements ShellFunc.
func (f *FakeShell) Serve(term io.ReadWriter) {
	reader := bufio.NewReader(term)
	write := func(format string, args ...any) bool {
		_, err := fmt.Fprintf(term, format, args...)
		return err == nil
	}
	readLine := func() (string, bool) {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", false
		}
		line = strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.lines = append(f.lines, line)
		f.mu.Unlock()
		return line, true
	}

	if !write("%s", f.Banner) {
		return
	}
	if f.NeverPrompt {
		_, _ = io.Copy(io.Discard, reader)
		return
	}
	if !write("%s", f.Prompt) {
		return
	}

	for {
		line, ok := readLine()
		if !ok {
			return
		}
		// Echo like a pty would.
		if !write("%s\r\n", line) {
			return
		}
		if strings.HasPrefix(line, "sudo ") {
			if !f.runScript(write, readLine) {
				return
			}
		}
		if !write("%s", f.Prompt) {
			return
		}
	}
}

func (f *FakeShell) runScript(write func(string, ...any) bool, readLine func() (string, bool)) bool {
	if !write("[sudo] password for ceph-admin: ") {
		return false
	}
	if _, ok := readLine(); !ok {
		return false
	}
	if !write("\r\n") {
		return false
	}
	if f.AskTwice && !write("Sorry, try again.\r\n[sudo] password for ceph-admin: \r\n") {
		return false
	}
	if f.OnRun != nil {
		f.OnRun()
	}
	for _, out := range f.ScriptOutput {
		if !write("%s\r\n", out) {
			return false
		}
	}
	if f.Hang {
		_, ok := readLine()
		return ok
	}
	return write("%s\r\n", f.Marker)
}

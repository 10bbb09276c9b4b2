// Package artifact finds the report produced on a target and copies it home.
package artifact

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cephdash/cephfetch/internal/logging"
)

// ErrNotFound is returned when no candidate file matches.
var ErrNotFound = errors.New("no matching artifact found")

// Executor runs a one-shot remote command.
type Executor interface {
	Exec(ctx context.Context, cmd string) (stdout, stderr []byte, err error)
}

// exitStatuser is implemented by remote command errors. A negative status
// means the command never reported an exit.
type exitStatuser interface {
	ExitStatus() int
}

// Candidate is a remote file that matched the artifact names.
type Candidate struct {
	Path    string
	ModTime time.Time
}

// Locator searches the script directory for the newest report.
type Locator struct {
	dir    string
	names  []string
	window time.Duration
	logger zerolog.Logger
}

// NewLocator creates a locator. An empty dir searches the login directory.
func NewLocator(dir string, names []string, window time.Duration) *Locator {
	if dir == "" {
		dir = "."
	}
	return &Locator{
		dir:    dir,
		names:  names,
		window: window,
		logger: logging.Component("artifact"),
	}
}

// Dir returns the searched directory.
func (l *Locator) Dir() string {
	return l.dir
}

// WindowMinutes returns the recency window rounded up to whole minutes.
func (l *Locator) WindowMinutes() int {
	minutes := int(math.Ceil(l.window.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// Command builds the find invocation listing "<mtime>\t<path>" lines.
func (l *Locator) Command() string {
	var b strings.Builder
	b.WriteString("find ")
	b.WriteString(quote(l.dir))
	b.WriteString(" -maxdepth 1 -type f \\(")
	for i, name := range l.names {
		if i > 0 {
			b.WriteString(" -o")
		}
		b.WriteString(" -name ")
		b.WriteString(quote(name))
	}
	b.WriteString(" \\) -mmin -")
	b.WriteString(strconv.Itoa(l.WindowMinutes()))
	b.WriteString(` -printf '%T@\t%p\n'`)
	return b.String()
}

// Locate runs the search on the exec channel and returns the newest match.
func (l *Locator) Locate(ctx context.Context, exec Executor) (Candidate, error) {
	cmd := l.Command()
	stdout, stderr, err := exec.Exec(ctx, cmd)
	candidates := ParseCandidates(stdout)

	if err != nil && len(candidates) == 0 {
		var exited exitStatuser
		if errors.As(err, &exited) && exited.ExitStatus() >= 0 {
			return Candidate{}, fmt.Errorf("%w in %s: %s", ErrNotFound, l.dir, strings.TrimSpace(string(stderr)))
		}
		return Candidate{}, fmt.Errorf("locate artifact: %w", err)
	}

	newest, ok := Newest(candidates)
	if !ok {
		return Candidate{}, fmt.Errorf("%w in %s (names %s, last %dm)", ErrNotFound, l.dir, strings.Join(l.names, ", "), l.WindowMinutes())
	}

	l.logger.Debug().
		Str("path", newest.Path).
		Time("mtime", newest.ModTime).
		Int("candidates", len(candidates)).
		Msg("artifact located")
	return newest, nil
}

// ParseCandidates parses find -printf '%T@\t%p\n' output. Malformed lines
// are skipped.
func ParseCandidates(out []byte) []Candidate {
	var candidates []Candidate
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		stamp, path, ok := strings.Cut(line, "\t")
		if !ok || path == "" {
			continue
		}
		seconds, err := strconv.ParseFloat(strings.TrimSpace(stamp), 64)
		if err != nil {
			continue
		}
		whole, frac := math.Modf(seconds)
		candidates = append(candidates, Candidate{
			Path:    path,
			ModTime: time.Unix(int64(whole), int64(frac*1e9)),
		})
	}
	return candidates
}

// Newest returns the most recently modified candidate. Ties keep the first listed.
func Newest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	newest := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.ModTime.After(newest.ModTime) {
			newest = candidate
		}
	}
	return newest, true
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

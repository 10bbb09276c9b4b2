package driver

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// plainText accumulates terminal output with escape sequences removed. The
// parser keeps its state between writes, so a sequence split across two
// chunks is still dropped and earlier output is never parsed twice.
type plainText struct {
	parser   *ansi.Parser
	dispatch ansi.ParserDispatcher
	buf      strings.Builder
}

func newPlainText() *plainText {
	p := &plainText{parser: ansi.NewParser(32, 4096)}
	p.dispatch = func(seq ansi.Sequence) {
		switch s := seq.(type) {
		case ansi.Rune:
			p.buf.WriteRune(rune(s))
		case ansi.ControlCode:
			p.buf.WriteByte(byte(s))
		}
	}
	return p
}

// Write feeds a chunk of raw output.
func (p *plainText) Write(chunk []byte) {
	for _, b := range chunk {
		// more=true: the end of a chunk is never the end of the stream.
		p.parser.Advance(p.dispatch, b, true)
	}
}

// String returns all text seen so far.
func (p *plainText) String() string {
	return p.buf.String()
}

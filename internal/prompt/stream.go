// Package prompt detects shell and credential prompts in raw terminal output.
package prompt

import (
	"io"
	"sync"
)

// ChunkSize is the read size used by Stream.
const ChunkSize = 1024

// Stream pumps a terminal reader into a channel from a background
// goroutine so callers can poll without blocking.
type Stream struct {
	chunks chan []byte
	done   chan struct{}
	stop   chan struct{}
	err    error

	stopOnce sync.Once
}

// NewStream starts reading r.
func NewStream(r io.Reader) *Stream {
	s := &Stream{
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.pump(r)
	return s
}

func (s *Stream) pump(r io.Reader) {
	defer close(s.done)
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.stop:
				s.err = io.ErrClosedPipe
				return
			}
		}
		if err != nil {
			s.err = err
			return
		}
	}
}

// Drain returns every chunk available right now without blocking.
func (s *Stream) Drain() []byte {
	var out []byte
	for {
		select {
		case chunk := <-s.chunks:
			out = append(out, chunk...)
		default:
			return out
		}
	}
}

// Done is closed when the reader returns an error.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the reader error once Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops delivering chunks. The reader itself is closed by its owner.
func (s *Stream) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

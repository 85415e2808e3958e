package connector

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrShellClosed is returned when writing to a shell that has been closed.
var ErrShellClosed = errors.New("shell closed")

// StreamShell adapts a blocking output stream into a Shell with
// non-blocking reads. A background goroutine pumps the stream into an
// in-memory buffer until it ends.
type StreamShell struct {
	in      io.Writer
	closeFn func() error

	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	closed bool

	once sync.Once
	done chan struct{}
}

// NewStreamShell starts pumping out and returns a Shell that writes to in.
// closeFn is called once on Close and must unblock any pending read on out.
func NewStreamShell(out io.Reader, in io.Writer, closeFn func() error) *StreamShell {
	s := &StreamShell{
		in:      in,
		closeFn: closeFn,
		done:    make(chan struct{}),
	}
	go s.pump(out)
	return s
}

func (s *StreamShell) pump(out io.Reader) {
	defer close(s.done)
	chunk := make([]byte, 4096)
	for {
		n, err := out.Read(chunk)
		s.mu.Lock()
		if n > 0 {
			s.buf.Write(chunk[:n])
		}
		if err != nil {
			s.err = err
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// Available reports the number of buffered bytes.
func (s *StreamShell) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Read drains buffered bytes. It returns 0, nil when nothing is buffered
// and the stream is still open.
func (s *StreamShell) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		if s.err != nil {
			return 0, s.err
		}
		if s.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	return s.buf.Read(p)
}

// Write forwards p to the shell input.
func (s *StreamShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrShellClosed
	}
	return s.in.Write(p)
}

// Close stops the shell. It is safe to call more than once.
func (s *StreamShell) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}

// Done is closed once the output stream has ended.
func (s *StreamShell) Done() <-chan struct{} {
	return s.done
}

var _ Shell = (*StreamShell)(nil)

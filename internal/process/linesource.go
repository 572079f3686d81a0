package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"unicode/utf8"
)

// LineSource yields decoded text lines from one output stream.
//
// NextLine returns the next line including its trailing newline. A final
// line without a newline is returned as-is. io.EOF signals the end of the
// stream; a line that is not valid UTF-8 yields a *DecodeError.
type LineSource interface {
	NextLine(ctx context.Context) (string, error)
}

func decodeLine(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", &DecodeError{Line: append([]byte(nil), raw...)}
	}
	return string(raw), nil
}

// ReaderSource reads lines synchronously from an io.Reader. It suits
// regular files and in-memory buffers where a read never blocks for long.
type ReaderSource struct {
	r *bufio.Reader
}

// NewReaderSource wraps r as a LineSource.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: bufio.NewReader(r)}
}

// NextLine implements LineSource. The context is checked before each read.
func (s *ReaderSource) NextLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := s.r.ReadBytes('\n')
	if len(raw) > 0 {
		// A read error after a partial line surfaces on the next call.
		return decodeLine(raw)
	}
	return "", err
}

type lineResult struct {
	line string
	err  error
}

// PipeSource reads lines from a pipe on a background goroutine so that a
// waiting NextLine can be abandoned through its context. A line is only
// handed over once a caller receives it, so cancelling a wait never loses or
// splits a line; it stays queued for the next NextLine call.
type PipeSource struct {
	lines chan lineResult
	done  chan struct{}
	once  sync.Once
}

// NewPipeSource starts pumping lines from r. Close releases the pump.
func NewPipeSource(r io.Reader) *PipeSource {
	s := &PipeSource{
		lines: make(chan lineResult),
		done:  make(chan struct{}),
	}
	go s.pump(bufio.NewReader(r))
	return s
}

func (s *PipeSource) pump(r *bufio.Reader) {
	defer close(s.lines)
	for {
		raw, err := r.ReadBytes('\n')
		if len(raw) > 0 {
			line, decErr := decodeLine(raw)
			if !s.send(lineResult{line: line, err: decErr}) {
				return
			}
		}
		if err != nil {
			// A pipe closed underneath the reader is a normal end of stream.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.send(lineResult{err: err})
			}
			return
		}
	}
}

func (s *PipeSource) send(res lineResult) bool {
	select {
	case s.lines <- res:
		return true
	case <-s.done:
		return false
	}
}

// NextLine implements LineSource.
func (s *PipeSource) NextLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", io.EOF
	case res, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	}
}

// Close stops the pump. Pending and future NextLine calls return io.EOF.
// The underlying reader is not closed.
func (s *PipeSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// SliceSource replays pre-decoded lines.
type SliceSource struct {
	mu    sync.Mutex
	lines []string
}

// NewSliceSource returns a source yielding lines in order, then io.EOF.
func NewSliceSource(lines ...string) *SliceSource {
	return &SliceSource{lines: append([]string(nil), lines...)}
}

// NextLine implements LineSource.
func (s *SliceSource) NextLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

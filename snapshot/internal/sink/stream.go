package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/html2png/encode"
)

// Stream writes raw artifact bytes to an io.Writer (default os.Stdout).
type Stream struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStream creates a Stream sink. If w is nil, os.Stdout is used.
func NewStream(w io.Writer) *Stream {
	if w == nil {
		w = os.Stdout
	}
	return &Stream{w: w}
}

func (s *Stream) Deliver(_ context.Context, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(a.Data); err != nil {
		return &encode.EncodeError{Op: "write", Path: "-", Format: a.Format, Err: err}
	}
	return nil
}

func (s *Stream) Close() error { return nil }

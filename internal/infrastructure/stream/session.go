// ABOUTME: Audio source adapter over seekable session-backed streams
// ABOUTME: Bridges protocol-level track handles into the shared source contract

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/noaione/spotilava/internal/domain"
)

// Handle is the seekable stream a session protocol hands back for a
// single track. Size is the total payload length, or -1 when unknown.
type Handle interface {
	io.Reader
	Seek(offset int64, whence int) (int64, error)
	Size() int64
	Close() error
}

// SessionSource adapts a Handle to the audio source contract. Unlike
// plain HTTP bodies, session streams support true random access, so Seek
// works in both directions.
type SessionSource struct {
	handle  Handle
	pos     int64
	eof     bool
	closed  bool
	pending error
}

// NewSession wraps handle as an audio source.
func NewSession(handle Handle) *SessionSource {
	return &SessionSource{handle: handle}
}

// ReadBytes returns up to n bytes from the current position.
func (s *SessionSource) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 || s.closed || s.eof {
		return nil, nil
	}
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		s.eof = true
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, rerr := io.ReadFull(s.handle, buf)
	chunk := buf[:read]
	s.pos += int64(read)
	switch {
	case rerr == nil:
	case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
		s.eof = true
	default:
		wrapped := fmt.Errorf("read stream: %w", rerr)
		if len(chunk) == 0 {
			s.eof = true
			return nil, wrapped
		}
		s.pending = wrapped
	}
	if len(chunk) == 0 {
		return nil, nil
	}
	return chunk, nil
}

// Available reports the remaining bytes from the current position.
func (s *SessionSource) Available() int {
	size := s.handle.Size()
	if size < 0 {
		return -1
	}
	remaining := size - s.pos
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// Empty reports whether the stream has been fully consumed.
func (s *SessionSource) Empty() bool {
	return s.closed || s.eof
}

// Seek moves to an absolute offset.
func (s *SessionSource) Seek(offset int64) error {
	if s.closed {
		return fmt.Errorf("seek on closed stream: %w", domain.ErrSeekUnsupported)
	}
	pos, err := s.handle.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek stream: %w", err)
	}
	s.pos = pos
	s.eof = false
	if size := s.handle.Size(); size >= 0 && pos >= size {
		s.eof = true
	}
	return nil
}

// Close releases the underlying handle. Safe to call more than once.
func (s *SessionSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handle.Close()
}

// ABOUTME: Direct HTTP payload source with exact byte accounting
// ABOUTME: Supports payload decoration for decryption and leading zero-pad trimming

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/noaione/spotilava/internal/domain"
)

// discardChunk limits how much a forward seek reads per iteration.
const discardChunk = 32 * 1024

// Decorator wraps the raw response body, typically with a decryption layer.
// The decorated reader must preserve the byte count of whatever it wraps.
type Decorator func(io.Reader) (io.Reader, error)

// DirectConfig describes a single-URL payload fetch.
type DirectConfig struct {
	URL              string
	Headers          map[string]string
	TrimLeadingZeros bool
	Decorate         Decorator
}

// DirectSource serves audio from one HTTP response body. Some origins pad
// the payload head with zero bytes before the container magic; with
// TrimLeadingZeros those are dropped and subtracted from the total, so
// Available stays exact.
type DirectSource struct {
	body    io.ReadCloser
	payload io.Reader
	length  int64 // raw payload size, below zero when the origin did not say

	delivered int64
	trimmed   int64
	trimLead  bool
	eof       bool
	closed    bool
	pending   error
}

// NewDirect wraps an already-open body. payload may be nil, in which case
// the body is read as-is.
func NewDirect(body io.ReadCloser, payload io.Reader, length int64, trimLeadingZeros bool) *DirectSource {
	if payload == nil {
		payload = body
	}
	return &DirectSource{
		body:     body,
		payload:  payload,
		length:   length,
		trimLead: trimLeadingZeros,
	}
}

// OpenDirect fetches cfg.URL and returns a source over the response body.
// The body stays open until the source is closed.
func OpenDirect(ctx context.Context, client *http.Client, cfg DirectConfig) (*DirectSource, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	payload := io.Reader(resp.Body)
	if cfg.Decorate != nil {
		payload, err = cfg.Decorate(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return NewDirect(resp.Body, payload, resp.ContentLength, cfg.TrimLeadingZeros), nil
}

// ReadBytes returns up to n payload bytes. An empty result means the end
// of the stream.
func (s *DirectSource) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 || s.closed || s.eof {
		return nil, nil
	}
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		s.eof = true
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		read, rerr := io.ReadFull(s.payload, buf)
		chunk := buf[:read]
		if s.trimLead && len(chunk) > 0 {
			zeros := 0
			for zeros < len(chunk) && chunk[zeros] == 0 {
				zeros++
			}
			s.trimmed += int64(zeros)
			chunk = chunk[zeros:]
			if len(chunk) > 0 {
				s.trimLead = false
			}
		}
		s.delivered += int64(len(chunk))
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			s.eof = true
		default:
			wrapped := fmt.Errorf("read payload: %w", rerr)
			if len(chunk) == 0 {
				s.eof = true
				return nil, wrapped
			}
			// Hand out what arrived, surface the error on the next call.
			s.pending = wrapped
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
		if s.eof {
			return nil, nil
		}
		// The whole chunk was zero padding; read again.
	}
}

// Available reports the remaining payload bytes, or -1 when the origin
// never declared a length.
func (s *DirectSource) Available() int {
	if s.length < 0 {
		return -1
	}
	remaining := s.length - s.trimmed - s.delivered
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// Empty reports whether the payload has been fully consumed.
func (s *DirectSource) Empty() bool {
	return s.closed || s.eof
}

// Seek discards forward to offset, counted in delivered bytes. Backward
// seeks are not possible on a live response body.
func (s *DirectSource) Seek(offset int64) error {
	if offset < s.delivered {
		return fmt.Errorf("backward seek to %d: %w", offset, domain.ErrSeekUnsupported)
	}
	for offset > s.delivered {
		need := offset - s.delivered
		if need > discardChunk {
			need = discardChunk
		}
		part, err := s.ReadBytes(context.Background(), int(need))
		if err != nil {
			return err
		}
		if len(part) == 0 {
			return nil
		}
	}
	return nil
}

// Close releases the response body. Safe to call more than once.
func (s *DirectSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}

// ABOUTME: Sequential segment fetcher turning a parsed manifest into an audio source
// ABOUTME: Walks init + media segments in order, buffering one fetched segment at a time

package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/rs/zerolog"
)

// State tracks where the reader is in the segment walk.
type State int

const (
	StateUninitialized State = iota
	StateInitFetched
	StateSegmentFetched
	StateSegmentExhausted
	StateAllExhausted
)

// String returns a human-readable state name for logs and tests.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitFetched:
		return "INIT_FETCHED"
	case StateSegmentFetched:
		return "SEGMENT_FETCHED"
	case StateSegmentExhausted:
		return "SEGMENT_EXHAUSTED"
	case StateAllExhausted:
		return "ALL_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// ReaderConfig holds the HTTP settings used for segment requests.
type ReaderConfig struct {
	Client  *http.Client
	Headers map[string]string
}

// Reader fetches manifest segments strictly in order and serves their bytes.
// Segment sizes declared by the manifest are advisory only; the reader counts
// what the CDN actually delivers, so the total is unknown until every segment
// has been fetched.
type Reader struct {
	cfg     ReaderConfig
	log     zerolog.Logger
	initURL string
	queue   []Segment

	state    State
	buf      []byte
	read     int64 // bytes handed to the caller
	observed int64 // true bytes fetched so far
	advisory int64 // declared size of segments still queued
	closed   bool
}

// NewReader builds a Reader over the given media description.
func NewReader(cfg ReaderConfig, media *Media, logger zerolog.Logger) *Reader {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	r := &Reader{
		cfg:     cfg,
		log:     logger,
		initURL: media.InitURL,
		queue:   append([]Segment(nil), media.Segments...),
	}
	for _, seg := range media.Segments {
		if seg.Size > 0 {
			r.advisory += seg.Size
		}
	}
	return r
}

// State reports the reader's current position in the walk.
func (r *Reader) State() State {
	return r.state
}

// ReadBytes returns up to n bytes, fetching the next segment when the
// current buffer runs dry. An empty result means the stream is finished.
func (r *Reader) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 || r.closed {
		return nil, nil
	}
	for len(r.buf) == 0 && r.state != StateAllExhausted {
		if err := r.advance(ctx); err != nil {
			return nil, err
		}
	}
	if len(r.buf) == 0 {
		return nil, nil
	}
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := r.buf[:n:n]
	r.buf = r.buf[n:]
	r.read += int64(n)
	return out, nil
}

// Available reports the exact remaining byte count, or -1 while segments
// are still queued and the true total cannot be known yet.
func (r *Reader) Available() int {
	if r.state == StateUninitialized || len(r.queue) > 0 {
		return -1
	}
	return int(r.observed - r.read)
}

// Empty reports whether every segment has been fetched and drained.
func (r *Reader) Empty() bool {
	if r.closed {
		return true
	}
	return r.state != StateUninitialized && len(r.queue) == 0 && len(r.buf) == 0
}

// Seek always fails: segments must be fetched in order.
func (r *Reader) Seek(offset int64) error {
	return domain.ErrSeekUnsupported
}

// Close releases the buffered segment. Safe to call more than once.
func (r *Reader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}

func (r *Reader) advance(ctx context.Context) error {
	switch r.state {
	case StateUninitialized:
		if err := r.fetchInit(ctx); err != nil {
			return err
		}
		r.state = StateInitFetched
	case StateInitFetched, StateSegmentFetched:
		if len(r.queue) == 0 {
			r.state = StateAllExhausted
			return nil
		}
		r.state = StateSegmentExhausted
		fallthrough
	case StateSegmentExhausted:
		if err := r.fetchSegment(ctx); err != nil {
			return err
		}
		r.state = StateSegmentFetched
	}
	return nil
}

func (r *Reader) fetchInit(ctx context.Context) error {
	if r.initURL == "" {
		return nil
	}
	r.log.Debug().Msg("manifest: requesting initialization segment")
	body, err := r.fetch(ctx, r.initURL)
	if err != nil {
		return fmt.Errorf("initialization segment: %w", err)
	}
	r.buf = body
	r.observed += int64(len(body))
	r.logExpected()
	return nil
}

func (r *Reader) fetchSegment(ctx context.Context) error {
	seg := r.queue[0]
	r.log.Debug().Msgf("manifest: requesting segment %d", seg.Number)
	body, err := r.fetch(ctx, seg.URL)
	if err != nil {
		return fmt.Errorf("segment %d: %w", seg.Number, err)
	}
	r.queue = r.queue[1:]
	if seg.Size > 0 {
		r.advisory -= seg.Size
	}
	r.buf = body
	r.observed += int64(len(body))
	r.logExpected()
	return nil
}

func (r *Reader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, value := range r.cfg.Headers {
		req.Header.Set(key, value)
	}
	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// logExpected traces the running size estimate. Declared segment sizes are
// frequently wrong, so the estimate is replaced by observed bytes as
// segments arrive and is never used for response headers.
func (r *Reader) logExpected() {
	r.log.Debug().Msgf("manifest: adjusted expected available to %d bytes", r.observed+r.advisory)
}

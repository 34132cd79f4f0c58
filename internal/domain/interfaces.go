// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Allows providers and handlers to depend on abstractions, not concrete implementations
package domain

import (
	"context"
)

// AudioSource is where the encoded bytes of one track come from: a live
// authenticated session, a single HTTP response body, or a chunked manifest.
type AudioSource interface {
	// ReadBytes returns up to n bytes of plaintext audio. It returns an
	// empty slice once the source is exhausted; EOF is not an error.
	ReadBytes(ctx context.Context, n int) ([]byte, error)

	// Available reports how many bytes remain, or -1 when the total is
	// not yet known (manifest sources before all segment sizes settle).
	Available() int

	// Empty reports whether the source has been fully consumed.
	Empty() bool

	// Seek moves the read position to an absolute offset. Sources that
	// only support forward consumption return ErrSeekUnsupported.
	Seek(offset int64) error

	// Close releases the source. Safe to call more than once.
	Close() error
}

// TrackStreamer resolves a track ID into a playable stream plus the
// metadata that will be injected into its container.
type TrackStreamer interface {
	OpenTrack(ctx context.Context, id string) (*TrackStream, error)
}

// TrackStream pairs an open audio source with the track metadata attached
// at stream-creation time. Each stream belongs to exactly one request.
type TrackStream struct {
	Source   AudioSource
	Metadata TrackMetadata

	// MimeHint is the container type the provider already knows from its
	// catalog ("audio/flac", "audio/ogg", ...). Empty when the provider
	// has no idea; the byte sniffer always has the final word.
	MimeHint string

	// ExtHint is the download filename extension when the provider knows
	// better than the container sniff. Manifest codecs like eac3 or alac
	// share an MP4 container but name their files differently.
	ExtHint string
}

// ReadBytes pulls up to n bytes from the underlying source.
func (t *TrackStream) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	return t.Source.ReadBytes(ctx, n)
}

// ReadAll drains the source into memory. Used for containers whose tags
// cannot be rewritten without the whole document (MP4).
func (t *TrackStream) ReadAll(ctx context.Context, chunkSize int) ([]byte, error) {
	var out []byte
	for !t.Source.Empty() {
		chunk, err := t.Source.ReadBytes(ctx, chunkSize)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	return out, nil
}

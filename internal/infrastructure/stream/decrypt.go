// ABOUTME: Audio source wrapper that applies a CTR keystream to passing bytes
// ABOUTME: Used for segmented streams where decoration at the body level is impossible

package stream

import (
	"context"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/noaione/spotilava/internal/infrastructure/cryptoctr"
)

// DecryptedSource layers a CTR decryptor over another source. The keystream
// advances with every read, which is why seeking is refused here.
type DecryptedSource struct {
	src domain.AudioSource
	dec *cryptoctr.Decryptor
}

// NewDecrypted wraps src with dec. A nil or passthrough decryptor returns
// src untouched.
func NewDecrypted(src domain.AudioSource, dec *cryptoctr.Decryptor) domain.AudioSource {
	if dec == nil || dec.Passthrough() {
		return src
	}
	return &DecryptedSource{src: src, dec: dec}
}

func (s *DecryptedSource) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	chunk, err := s.src.ReadBytes(ctx, n)
	if err != nil || len(chunk) == 0 {
		return chunk, err
	}
	s.dec.Apply(chunk)
	return chunk, nil
}

func (s *DecryptedSource) Available() int {
	return s.src.Available()
}

func (s *DecryptedSource) Empty() bool {
	return s.src.Empty()
}

// Seek would desync the keystream from the payload position.
func (s *DecryptedSource) Seek(offset int64) error {
	return domain.ErrSeekUnsupported
}

func (s *DecryptedSource) Close() error {
	return s.src.Close()
}

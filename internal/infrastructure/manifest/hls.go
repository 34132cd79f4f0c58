// ABOUTME: HLS media playlist parsing into the shared segmented-media model
// ABOUTME: Resolves segment URIs against the playlist URL when they are relative
package manifest

import (
	"fmt"
	"io"
	"net/url"

	"github.com/grafov/m3u8"

	"github.com/noaione/spotilava/internal/domain"
)

// ParseHLS reads an HLS media playlist into a Media. base, when non-nil,
// anchors relative segment URIs. Master playlists are rejected; callers
// are expected to hand over the already-selected media rendition.
func ParseHLS(r io.Reader, base *url.URL) (*Media, error) {
	playlist, kind, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, fmt.Errorf("hls decode: %s: %w", err, domain.ErrBadManifest)
	}
	if kind != m3u8.MEDIA {
		return nil, fmt.Errorf("hls: not a media playlist: %w", domain.ErrBadManifest)
	}
	media := playlist.(*m3u8.MediaPlaylist)

	out := &Media{}
	if media.Map != nil {
		out.InitURL, err = resolveURI(media.Map.URI, base)
		if err != nil {
			return nil, err
		}
	}
	number := int(media.SeqNo)
	for _, seg := range media.Segments {
		if seg == nil {
			break
		}
		uri, err := resolveURI(seg.URI, base)
		if err != nil {
			return nil, err
		}
		out.Segments = append(out.Segments, Segment{Number: number, URL: uri})
		number++
	}
	if len(out.Segments) == 0 {
		return nil, fmt.Errorf("hls: empty media playlist: %w", domain.ErrBadManifest)
	}
	return out, nil
}

func resolveURI(uri string, base *url.URL) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("hls: segment uri %q: %w", uri, domain.ErrBadManifest)
	}
	if parsed.IsAbs() || base == nil {
		return uri, nil
	}
	return base.ResolveReference(parsed).String(), nil
}

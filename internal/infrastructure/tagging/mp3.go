// ABOUTME: ID3v2 injection for bare MP3 streams
// ABOUTME: Prepends a fresh tag; payloads that already carry ID3 are never touched

package tagging

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bogem/id3v2"

	"github.com/noaione/spotilava/internal/domain"
)

func injectMP3(head []byte, meta domain.TrackMetadata) ([]byte, error) {
	tag := id3v2.NewEmptyTag()
	tag.SetTitle(meta.Title)
	if meta.Album != "" {
		tag.SetAlbum(meta.Album)
	}
	if len(meta.Artists) > 0 {
		tag.SetArtist(strings.Join(meta.Artists, "/"))
	}

	var buf bytes.Buffer
	if _, err := tag.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write id3 tag: %w", err)
	}
	return append(buf.Bytes(), head...), nil
}

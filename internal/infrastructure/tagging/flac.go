// ABOUTME: Vorbis comment injection for FLAC streams
// ABOUTME: Splices a rebuilt comment block behind the existing metadata blocks

package tagging

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mewkiz/flac/meta"

	"github.com/noaione/spotilava/internal/domain"
)

// defaultFLACVendor is written when the stream carries no comment block to
// take the vendor string from.
const defaultFLACVendor = "spotilava"

type flacBlockSpan struct {
	start, end int
	typ        meta.Type
}

// injectFLAC rewrites the metadata section of a FLAC stream head. All
// metadata blocks must be buffered; audio frames after them pass through
// untouched.
func injectFLAC(head []byte, trackMeta domain.TrackMetadata) ([]byte, error) {
	if !bytes.HasPrefix(head, []byte("fLaC")) {
		return nil, errors.New("missing flac signature")
	}

	br := bytes.NewReader(head[4:])
	pos := func() int { return 4 + int(br.Size()) - br.Len() }

	var spans []flacBlockSpan
	vendor := defaultFLACVendor
	var existing [][2]string
	for {
		start := pos()
		block, err := meta.New(br)
		if err != nil {
			return nil, fmt.Errorf("parse metadata block: %w", err)
		}
		if block.Type == meta.TypeVorbisComment {
			if err := block.Parse(); err != nil {
				return nil, fmt.Errorf("parse vorbis comment: %w", err)
			}
			vc := block.Body.(*meta.VorbisComment)
			vendor = vc.Vendor
			existing = vc.Tags
		} else if err := block.Skip(); err != nil {
			return nil, fmt.Errorf("skip metadata block: %w", err)
		}
		end := pos()
		if want := start + 4 + int(block.Length); end != want {
			return nil, errors.New("metadata blocks extend past the buffered head")
		}
		spans = append(spans, flacBlockSpan{start: start, end: end, typ: block.Type})
		if block.IsLast {
			break
		}
	}

	var out bytes.Buffer
	out.Write(head[:4])
	for _, span := range spans {
		if span.typ == meta.TypeVorbisComment {
			continue
		}
		out.WriteByte(head[span.start] &^ 0x80) // clear is-last
		out.Write(head[span.start+1 : span.end])
	}
	out.Write(buildFLACCommentBlock(vendor, mergeTags(existing, trackMeta)))
	out.Write(head[spans[len(spans)-1].end:])
	return out.Bytes(), nil
}

func buildFLACCommentBlock(vendor string, tags [][2]string) []byte {
	var body bytes.Buffer
	writeLE32(&body, uint32(len(vendor)))
	body.WriteString(vendor)
	writeLE32(&body, uint32(len(tags)))
	for _, kv := range tags {
		entry := kv[0] + "=" + kv[1]
		writeLE32(&body, uint32(len(entry)))
		body.WriteString(entry)
	}

	out := make([]byte, 4+body.Len())
	out[0] = 0x80 | byte(meta.TypeVorbisComment) // always spliced in last
	out[1] = byte(body.Len() >> 16)
	out[2] = byte(body.Len() >> 8)
	out[3] = byte(body.Len())
	copy(out[4:], body.Bytes())
	return out
}

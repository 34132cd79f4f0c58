// ABOUTME: Container-aware metadata injection dispatcher
// ABOUTME: Sniffs the buffered head and rewrites it with track tags, passing through on failure

package tagging

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noaione/spotilava/internal/domain"
)

// Result carries the possibly rewritten head chunk and the container kind
// that drove the rewrite. Callers use the kind for content type and file
// extension decisions.
type Result struct {
	Head []byte
	Kind Kind
}

// Injector rewrites buffered head chunks with track metadata.
type Injector struct {
	log zerolog.Logger
}

func NewInjector(logger zerolog.Logger) *Injector {
	return &Injector{log: logger}
}

// Inject sniffs the container in head and splices the track tags into it.
// A head that already carries an ID3 tag is passed through byte-identical,
// as is any container the sniffer cannot place. Injection failures
// degrade to passthrough so a malformed head never breaks playback.
func (in *Injector) Inject(head []byte, meta domain.TrackMetadata, hint string) Result {
	kind := ResolveKind(head, hint)

	var (
		out []byte
		err error
	)
	switch kind {
	case KindOgg:
		out, err = injectOgg(head, meta)
	case KindMP3:
		out, err = injectMP3(head, meta)
	case KindFLAC:
		out, err = injectFLAC(head, meta)
	case KindMP4:
		out, err = injectMP4(head, meta)
	default:
		return Result{Head: head, Kind: kind}
	}
	if err != nil {
		in.log.Warn().Err(err).Str("track", meta.ID).Str("kind", kind.String()).
			Msg("metadata injection failed, passing payload through")
		return Result{Head: head, Kind: kind}
	}
	return Result{Head: out, Kind: kind}
}

// mergeTags replaces any existing title, album, and artist comments with the
// track's own, leaving unrelated comments in place.
func mergeTags(existing [][2]string, meta domain.TrackMetadata) [][2]string {
	merged := make([][2]string, 0, len(existing)+2+len(meta.Artists))
	for _, kv := range existing {
		switch strings.ToUpper(kv[0]) {
		case "TITLE", "ALBUM", "ARTIST":
			continue
		}
		merged = append(merged, kv)
	}
	merged = append(merged, [2]string{"TITLE", meta.Title})
	if meta.Album != "" {
		merged = append(merged, [2]string{"ALBUM", meta.Album})
	}
	for _, artist := range meta.Artists {
		merged = append(merged, [2]string{"ARTIST", artist})
	}
	return merged
}

func writeLE32(b *bytes.Buffer, v uint32) {
	var quad [4]byte
	binary.LittleEndian.PutUint32(quad[:], v)
	b.Write(quad[:])
}

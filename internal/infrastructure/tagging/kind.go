// ABOUTME: Container detection for audio payload heads
// ABOUTME: Decides which injector, content type, and file extension a stream gets

package tagging

import (
	"bytes"
	"strings"

	"github.com/tcolgate/mp3"
)

// Kind identifies the audio container of a payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindOgg
	// KindMP3Tagged is an MP3 payload that already carries an ID3 header.
	// Those are served byte-identical, no injection.
	KindMP3Tagged
	KindMP3
	KindFLAC
	KindMP4
)

// OggSilence is an opus silence frame appended to served Ogg streams so
// players treat the cut point as a clean end of stream.
var OggSilence = []byte{0xF8, 0xFF, 0xFE}

func (k Kind) String() string {
	switch k {
	case KindOgg:
		return "ogg"
	case KindMP3Tagged:
		return "mp3+id3"
	case KindMP3:
		return "mp3"
	case KindFLAC:
		return "flac"
	case KindMP4:
		return "mp4"
	default:
		return "unknown"
	}
}

// ContentType returns the mime type served for this container. Unknown
// payloads are served as Ogg, matching the most common case.
func (k Kind) ContentType() string {
	switch k {
	case KindMP3Tagged, KindMP3:
		return "audio/mpeg"
	case KindFLAC:
		return "audio/flac"
	case KindMP4:
		return "audio/mp4"
	default:
		return "audio/ogg"
	}
}

// Ext returns the filename extension used in Content-Disposition headers.
func (k Kind) Ext() string {
	switch k {
	case KindMP3Tagged, KindMP3:
		return ".mp3"
	case KindFLAC:
		return ".flac"
	case KindMP4:
		return ".m4a"
	default:
		return ".ogg"
	}
}

// Classify sniffs the container from the head bytes of a stream.
func Classify(head []byte) Kind {
	if len(head) >= 4 && bytes.Equal(head[:4], []byte("OggS")) {
		return KindOgg
	}
	if len(head) >= 3 && bytes.Equal(head[:3], []byte("ID3")) {
		return KindMP3Tagged
	}
	if isMP3Frame(head) {
		return KindMP3
	}
	if len(head) >= 4 && bytes.Equal(head[:4], []byte("fLaC")) {
		return KindFLAC
	}
	if len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) {
		return KindMP4
	}
	return KindUnknown
}

// ResolveKind sniffs the payload head, falling back to the provider's
// container hint when the bytes are inconclusive. The sniffed result always
// wins over the hint.
func ResolveKind(head []byte, hint string) Kind {
	kind := Classify(head)
	if kind != KindUnknown || hint == "" {
		return kind
	}
	return kindFromHint(hint)
}

func kindFromHint(hint string) Kind {
	hint = strings.ToLower(hint)
	switch {
	case strings.Contains(hint, "flac"):
		return KindFLAC
	case strings.Contains(hint, "mpeg"), strings.Contains(hint, "mp3"):
		return KindMP3
	case strings.Contains(hint, "mp4"), strings.Contains(hint, "m4a"), strings.Contains(hint, "aac"):
		return KindMP4
	case strings.Contains(hint, "ogg"), strings.Contains(hint, "vorbis"):
		return KindOgg
	default:
		return KindUnknown
	}
}

// isMP3Frame requires a frame sync right at the head. A lenient scan would
// misfire on compressed payloads of other containers.
func isMP3Frame(head []byte) bool {
	if len(head) < 4 {
		return false
	}
	var frame mp3.Frame
	var skipped int
	if err := mp3.NewDecoder(bytes.NewReader(head)).Decode(&frame, &skipped); err != nil {
		return false
	}
	return skipped == 0
}

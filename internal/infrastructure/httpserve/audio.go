// ABOUTME: Shared audio responder: injects metadata into the head and streams the rest
// ABOUTME: Range offsets address the served byte space, after injection grew the head

package httpserve

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/noaione/spotilava/internal/infrastructure/tagging"
)

// audioRequest describes one listen response before any byte moves.
type audioRequest struct {
	id      string
	prefix  string // filename prefix, e.g. "track_" or "episode_"
	stream  *domain.TrackStream
	whole   bool // buffer the entire payload before injecting (end-loaded containers)
	silence bool // close an ogg payload with a trailing silence frame
}

// serveAudio injects metadata into the payload head and answers the
// request, honoring single byte ranges when the source length is known.
//
// The addressable resource is what this server sends for a full fetch:
// the injected head, the rest of the source, and the trailing silence
// frame when the route asked for one. Range offsets index that space, so
// seek targets are rebased by however much injection changed the head and
// the reported total never shifts between plain and ranged requests.
func (s *Server) serveAudio(w http.ResponseWriter, r *http.Request, req audioRequest) {
	defer req.stream.Source.Close()

	var head []byte
	var err error
	if req.whole {
		head, err = req.stream.ReadAll(r.Context(), s.chunk)
	} else {
		head, err = req.stream.ReadBytes(r.Context(), s.chunk)
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", req.id).Msg("reading payload head failed")
		writeText(w, http.StatusInternalServerError, "Failed to read stream.")
		return
	}
	rawLen := int64(len(head))

	res := s.inject.Inject(head, req.stream.Metadata, req.stream.MimeHint)
	head = res.Head

	ext := res.Kind.Ext()
	if req.stream.ExtHint != "" {
		ext = req.stream.ExtHint
	}
	w.Header().Set("Content-Type", res.Kind.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", req.prefix+req.id+ext))
	w.Header().Set("Accept-Ranges", "bytes")

	var silence []byte
	if req.silence && res.Kind == tagging.KindOgg {
		silence = tagging.OggSilence
	}

	avail := 0
	if !req.whole {
		avail = req.stream.Source.Available()
	}
	rng, hasRange := parseRange(r.Header.Get("Range"))
	if hasRange && rng.end >= 0 && rng.start > rng.end {
		// Handlers answer these before opening a stream; anything that
		// still lands here is served whole.
		hasRange = false
	}

	if avail < 0 {
		// The source has not settled on a length yet, as with segmented
		// manifests mid-flight. Ranged starts cannot be honored there.
		if hasRange && rng.start > 0 {
			writeText(w, http.StatusRequestedRangeNotSatisfiable, "Range requests are not supported for this track.")
			return
		}
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.pump(w, r, req.stream, head, -1, silence)
		}
		return
	}

	base := int64(len(head)) + int64(avail)
	total := base + int64(len(silence))

	if !hasRange {
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.pump(w, r, req.stream, head, -1, silence)
		}
		return
	}

	if rng.start >= total {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.start, total))
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusPartialContent)
		return
	}

	hi := total
	if rng.end >= 0 && rng.end+1 < hi {
		hi = rng.end + 1
	}

	// The slice of the trailing silence frame the window reaches into.
	var padSlice []byte
	if hi > base {
		lo := rng.start
		if lo < base {
			lo = base
		}
		padSlice = silence[lo-base : hi-base]
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, hi-1, total))
	w.Header().Set("Content-Length", strconv.FormatInt(hi-rng.start, 10))

	if rng.start >= base {
		// The whole window sits inside the silence frame.
		w.WriteHeader(http.StatusPartialContent)
		if r.Method != http.MethodHead {
			w.Write(padSlice)
		}
		return
	}

	limit := int64(-1)
	if rng.end >= 0 {
		if bodyHi := min(hi, base); bodyHi > rng.start {
			limit = bodyHi - rng.start
		}
	}
	if rng.start < int64(len(head)) {
		head = head[rng.start:]
	} else {
		if err := req.stream.Source.Seek(rawLen + rng.start - int64(len(head))); err != nil {
			if errors.Is(err, domain.ErrSeekUnsupported) {
				writeText(w, http.StatusRequestedRangeNotSatisfiable, "Range requests are not supported for this track.")
				return
			}
			s.log.Error().Err(err).Str("id", req.id).Msg("seeking stream failed")
			writeText(w, http.StatusInternalServerError, "Failed to seek stream.")
			return
		}
		head = nil
	}

	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	s.pump(w, r, req.stream, head, limit, padSlice)
}

// pump writes the audio body: the injected head first, then the source in
// chunk-sized reads, then the window's share of the silence frame. A
// limit >= 0 caps head plus source bytes; the pad is always on top.
func (s *Server) pump(w http.ResponseWriter, r *http.Request, stream *domain.TrackStream, head []byte, limit int64, pad []byte) {
	flusher, _ := w.(http.Flusher)
	write := func(p []byte) bool {
		if len(p) == 0 {
			return true
		}
		if _, err := w.Write(p); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if limit >= 0 && int64(len(head)) > limit {
		head = head[:limit]
	}
	if !write(head) {
		return
	}
	sent := int64(len(head))

	for !stream.Source.Empty() {
		if limit >= 0 && sent >= limit {
			break
		}
		if r.Context().Err() != nil {
			return
		}
		size := s.chunk
		if limit >= 0 && limit-sent < int64(size) {
			size = int(limit - sent)
		}
		chunk, err := stream.ReadBytes(r.Context(), size)
		if err != nil {
			s.log.Warn().Err(err).Msg("stream read failed mid-body")
			return
		}
		if len(chunk) == 0 {
			break
		}
		if !write(chunk) {
			return
		}
		sent += int64(len(chunk))
	}
	write(pad)
}

// ABOUTME: Range header parsing for the audio routes
// ABOUTME: Single bytes=start-end ranges only, end inclusive per RFC 7233

package httpserve

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// byteRange is one parsed Range header. end is inclusive; -1 means the
// request runs to the end of the payload.
type byteRange struct {
	start int64
	end   int64
}

// parseRange reads a `bytes=start-end` header. Anything it cannot parse
// reports false and the caller serves the full payload: suffix ranges,
// multi-range sets and foreign units are all out of scope here.
func parseRange(header string) (byteRange, bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, false
	}
	expr := strings.TrimPrefix(header, prefix)
	if strings.Contains(expr, ",") {
		return byteRange{}, false
	}
	rawStart, rawEnd, found := strings.Cut(expr, "-")
	if !found {
		return byteRange{}, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(rawStart), 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false
	}
	parsed := byteRange{start: start, end: -1}
	if trimmed := strings.TrimSpace(rawEnd); trimmed != "" {
		end, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil || end < 0 {
			return byteRange{}, false
		}
		parsed.end = end
	}
	return parsed, true
}

// answerDegenerateRange settles start>end requests before the handler
// touches a provider, so no stream is opened for a zero-length window.
// The total is unknowable at this point, hence the `/*` form.
func answerDegenerateRange(w http.ResponseWriter, r *http.Request) bool {
	rng, ok := parseRange(r.Header.Get("Range"))
	if !ok || rng.end < 0 || rng.start <= rng.end {
		return false
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", rng.start, rng.start))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusPartialContent)
	return true
}

// ABOUTME: Response envelope and request validation helpers shared by the routes
// ABOUTME: Metadata answers ride a JSON envelope, audio errors stay plain text

package httpserve

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/noaione/spotilava/internal/domain/quality"
)

// envelope is the JSON wrapper every metadata route answers with.
type envelope struct {
	Error string      `json:"error"`
	Code  int         `json:"code"`
	Data  interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{Error: "Success", Code: http.StatusOK, Data: data})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg, Code: status})
}

// writeText answers with a bare plain-text line, the shape the listen
// routes use for their errors and the root banner.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case '0' <= r && r <= '9':
		case 'a' <= r && r <= 'z':
		case 'A' <= r && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// readMethod screens everything the routes do not serve. Audio and
// metadata alike only ever answer reads.
func readMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return false
	}
	return true
}

func firstQuery(q url.Values, keys ...string) string {
	for _, key := range keys {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// pickerFromQuery builds a quality picker from the listen query string.
// Absent or unrecognized parameters leave the provider's own default in
// charge, so the return may be nil.
func pickerFromQuery(q url.Values) *quality.Picker {
	level, okLevel := quality.ParseRequestLevel(firstQuery(q, "q", "qual", "quality"))
	family, okFamily := quality.ParseFamily(firstQuery(q, "format", "fmt"))
	if !okLevel && !okFamily {
		return nil
	}
	if !okLevel {
		level = quality.VeryHigh
	}
	pick := quality.NewPicker(level)
	if okFamily {
		pick.PreferFamily(family)
	}
	return pick
}

// ABOUTME: Tidal routes: track metadata, listen, album and playlist lookups
// ABOUTME: Playlist ids are UUIDs so they skip the alphanumeric screen

package httpserve

import (
	"net/http"
	"strings"
)

// handleTidal dispatches everything under /tidal/.
func (s *Server) handleTidal(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	sub := routeParts(r.URL.Path)[1:]
	switch {
	case len(sub) == 1:
		s.tidalTrackMeta(w, r, sub[0])
	case len(sub) == 2 && sub[0] == "album":
		s.tidalAlbum(w, r, sub[1])
	case len(sub) == 2 && sub[0] == "playlist":
		s.tidalPlaylist(w, r, sub[1])
	case len(sub) == 2 && sub[1] == "listen":
		s.tidalTrackListen(w, r, sub[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) tidalReady() bool {
	return s.tidal != nil && s.tidal.Ready()
}

func (s *Server) tidalTrackMeta(w http.ResponseWriter, r *http.Request, id string) {
	if !s.tidalReady() {
		writeJSONError(w, http.StatusInternalServerError, "Tidal not connected.")
		return
	}
	if !isAlnum(id) {
		writeJSONError(w, http.StatusBadRequest, "Invalid track id, must be alphanumerical")
		return
	}
	track, err := s.tidal.Track(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Track not found.")
		return
	}
	writeJSON(w, track)
}

func (s *Server) tidalTrackListen(w http.ResponseWriter, r *http.Request, id string) {
	if !s.tidalReady() {
		writeText(w, http.StatusInternalServerError, "Tidal not connected.")
		return
	}
	if !isAlnum(id) {
		writeText(w, http.StatusBadRequest, "Invalid track id.")
		return
	}
	if answerDegenerateRange(w, r) {
		return
	}
	stream, err := s.tidal.OpenTrack(r.Context(), id)
	if err != nil {
		s.answerOpenError(w, err, id, "Track")
		return
	}
	s.serveAudio(w, r, audioRequest{
		id:     id,
		prefix: "track_",
		stream: stream,
		whole:  !strings.Contains(stream.MimeHint, "flac"),
	})
}

func (s *Server) tidalAlbum(w http.ResponseWriter, r *http.Request, id string) {
	if !s.tidalReady() {
		writeJSONError(w, http.StatusInternalServerError, "Tidal not connected.")
		return
	}
	if !isAlnum(id) {
		writeJSONError(w, http.StatusBadRequest, "Invalid album id, must be alphanumerical")
		return
	}
	album, err := s.tidal.Album(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Album not found.")
		return
	}
	writeJSON(w, album)
}

func (s *Server) tidalPlaylist(w http.ResponseWriter, r *http.Request, id string) {
	if !s.tidalReady() {
		writeJSONError(w, http.StatusInternalServerError, "Tidal not connected.")
		return
	}
	playlist, err := s.tidal.Playlist(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Playlist not found.")
		return
	}
	writeJSON(w, playlist)
}

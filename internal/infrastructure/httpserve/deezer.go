// ABOUTME: Deezer routes: track metadata, listen, album, playlist and artist lookups
// ABOUTME: Non-FLAC payloads buffer whole because their tags rewrite the full file

package httpserve

import (
	"net/http"
	"strings"
)

// handleDeezer dispatches everything under /deezer/.
func (s *Server) handleDeezer(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	sub := routeParts(r.URL.Path)[1:]
	switch {
	case len(sub) == 1:
		s.deezerTrackMeta(w, r, sub[0])
	case len(sub) == 2 && sub[0] == "album":
		s.deezerAlbum(w, r, sub[1])
	case len(sub) == 2 && sub[0] == "playlist":
		s.deezerPlaylist(w, r, sub[1])
	case len(sub) == 2 && sub[0] == "artist":
		s.deezerArtist(w, r, sub[1])
	case len(sub) == 2 && sub[1] == "listen":
		s.deezerTrackListen(w, r, sub[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) deezerReady() bool {
	return s.deezer != nil && s.deezer.Ready()
}

func (s *Server) deezerTrackMeta(w http.ResponseWriter, r *http.Request, id string) {
	if !s.deezerReady() {
		writeJSONError(w, http.StatusInternalServerError, "Deezer not connected.")
		return
	}
	if !isAlnum(id) {
		writeJSONError(w, http.StatusBadRequest, "Invalid track id, must be alphanumerical")
		return
	}
	track, err := s.deezer.Track(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Track not found.")
		return
	}
	writeJSON(w, track)
}

func (s *Server) deezerTrackListen(w http.ResponseWriter, r *http.Request, id string) {
	if !s.deezerReady() {
		writeText(w, http.StatusInternalServerError, "Deezer not connected.")
		return
	}
	if !isAlnum(id) {
		writeText(w, http.StatusBadRequest, "Invalid track id.")
		return
	}
	if answerDegenerateRange(w, r) {
		return
	}
	stream, err := s.deezer.OpenTrack(r.Context(), id)
	if err != nil {
		s.answerOpenError(w, err, id, "Track")
		return
	}
	s.serveAudio(w, r, audioRequest{
		id:     id,
		prefix: "track_deezer_",
		stream: stream,
		whole:  !strings.Contains(stream.MimeHint, "flac"),
	})
}

func (s *Server) deezerAlbum(w http.ResponseWriter, r *http.Request, id string) {
	if !s.deezerReady() {
		writeJSONError(w, http.StatusInternalServerError, "Deezer not connected.")
		return
	}
	if !isAlnum(id) {
		writeJSONError(w, http.StatusBadRequest, "Invalid album id, must be alphanumerical")
		return
	}
	album, err := s.deezer.Album(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Album not found.")
		return
	}
	writeJSON(w, album)
}

func (s *Server) deezerPlaylist(w http.ResponseWriter, r *http.Request, id string) {
	if !s.deezerReady() {
		writeJSONError(w, http.StatusInternalServerError, "Deezer not connected.")
		return
	}
	playlist, err := s.deezer.Playlist(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Playlist not found.")
		return
	}
	writeJSON(w, playlist)
}

// deezerArtist serves an artist's top tracks as a bare track array.
// Artist ids skip the alphanumeric screen like playlists; the lookup
// decides.
func (s *Server) deezerArtist(w http.ResponseWriter, r *http.Request, id string) {
	if !s.deezerReady() {
		writeJSONError(w, http.StatusInternalServerError, "Deezer not connected.")
		return
	}
	tracks, err := s.deezer.ArtistTopTracks(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Artist not found.")
		return
	}
	writeJSON(w, tracks)
}

// ABOUTME: Spotify routes: bare track paths, listing lookups and the region probe
// ABOUTME: Track and episode listens share the audio responder with different trimmings

package httpserve

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noaione/spotilava/internal/domain"
)

// spotifyIDLength is the fixed width of every base62 document id.
const spotifyIDLength = 22

func routeParts(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// validSpotifyID screens a metadata route id, answering the shared JSON
// error shape when it is off.
func validSpotifyID(w http.ResponseWriter, id, what string) bool {
	if len(id) != spotifyIDLength {
		writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid %s id, expected %d char length, got %d instead", what, spotifyIDLength, len(id)))
		return false
	}
	if !isAlnum(id) {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s id, must be alphanumerical", what))
		return false
	}
	return true
}

// answerOpenError maps a stream-open failure onto the plain-text contract
// of the listen routes.
func (s *Server) answerOpenError(w http.ResponseWriter, err error, id, what string) {
	if errors.Is(err, domain.ErrTrackNotFound) || errors.Is(err, domain.ErrUnplayable) {
		writeText(w, http.StatusNotFound, what+" not found.")
		return
	}
	s.log.Error().Err(err).Str("id", id).Msg("opening stream failed")
	writeText(w, http.StatusInternalServerError, "Failed to open "+strings.ToLower(what)+".")
}

// handleRoot answers the banner on the bare path and dispatches the
// short-form Spotify track routes: /{id} and /{id}/listen.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	parts := routeParts(r.URL.Path)
	switch {
	case len(parts) == 0:
		writeText(w, http.StatusOK, "</>")
	case len(parts) == 1:
		s.spotifyTrackMeta(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "listen":
		s.spotifyTrackListen(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) spotifyTrackMeta(w http.ResponseWriter, r *http.Request, id string) {
	if s.spotify == nil {
		writeJSONError(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if !validSpotifyID(w, id, "track") {
		return
	}
	track, err := s.spotify.TrackMetadata(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Track not found.")
		return
	}
	writeJSON(w, track)
}

func (s *Server) spotifyTrackListen(w http.ResponseWriter, r *http.Request, id string) {
	if s.spotify == nil {
		writeText(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if len(id) != spotifyIDLength || !isAlnum(id) {
		writeText(w, http.StatusBadRequest, "Invalid track id.")
		return
	}
	if answerDegenerateRange(w, r) {
		return
	}
	stream, err := s.spotify.OpenTrack(r.Context(), id, pickerFromQuery(r.URL.Query()))
	if err != nil {
		s.answerOpenError(w, err, id, "Track")
		return
	}
	s.serveAudio(w, r, audioRequest{id: id, prefix: "track_", stream: stream, silence: true})
}

func (s *Server) handleAlbum(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	parts := routeParts(r.URL.Path)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	if s.spotify == nil {
		writeJSONError(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if !validSpotifyID(w, parts[1], "album") {
		return
	}
	album, err := s.spotify.AlbumMetadata(r.Context(), parts[1])
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Album not found.")
		return
	}
	writeJSON(w, album)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	parts := routeParts(r.URL.Path)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	if s.spotify == nil {
		writeJSONError(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if !validSpotifyID(w, parts[1], "playlist") {
		return
	}
	playlist, err := s.spotify.PlaylistMetadata(r.Context(), parts[1])
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Playlist not found.")
		return
	}
	writeJSON(w, playlist)
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	parts := routeParts(r.URL.Path)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	if s.spotify == nil {
		writeJSONError(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if !validSpotifyID(w, parts[1], "show") {
		return
	}
	show, err := s.spotify.ShowMetadata(r.Context(), parts[1])
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Show not found.")
		return
	}
	writeJSON(w, show)
}

func (s *Server) handleArtist(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	parts := routeParts(r.URL.Path)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	if s.spotify == nil {
		writeJSONError(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if !validSpotifyID(w, parts[1], "artist") {
		return
	}
	artist, err := s.spotify.ArtistTopTracks(r.Context(), parts[1])
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Artist not found.")
		return
	}
	writeJSON(w, artist)
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	parts := routeParts(r.URL.Path)
	switch {
	case len(parts) == 2:
		s.spotifyEpisodeMeta(w, r, parts[1])
	case len(parts) == 3 && parts[2] == "listen":
		s.spotifyEpisodeListen(w, r, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) spotifyEpisodeMeta(w http.ResponseWriter, r *http.Request, id string) {
	if s.spotify == nil {
		writeJSONError(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if !validSpotifyID(w, id, "episode") {
		return
	}
	episode, err := s.spotify.EpisodeMetadata(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Episode not found.")
		return
	}
	writeJSON(w, episode)
}

func (s *Server) spotifyEpisodeListen(w http.ResponseWriter, r *http.Request, id string) {
	if s.spotify == nil {
		writeText(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	if len(id) != spotifyIDLength || !isAlnum(id) {
		writeText(w, http.StatusBadRequest, "Invalid episode id.")
		return
	}
	if answerDegenerateRange(w, r) {
		return
	}
	stream, err := s.spotify.OpenEpisode(r.Context(), id, pickerFromQuery(r.URL.Query()))
	if err != nil {
		s.answerOpenError(w, err, id, "Episode")
		return
	}
	s.serveAudio(w, r, audioRequest{id: id, prefix: "episode_", stream: stream})
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	if !readMethod(w, r) {
		return
	}
	if s.spotify == nil {
		writeJSONError(w, http.StatusInternalServerError, "Spotify not connected.")
		return
	}
	writeJSON(w, s.spotify.Region())
}

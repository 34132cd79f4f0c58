// ABOUTME: HTTP server wiring every provider route onto one mux
// ABOUTME: Providers are optional; missing ones answer with a not-connected error

package httpserve

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/noaione/spotilava/internal/domain/quality"
	"github.com/noaione/spotilava/internal/infrastructure/tagging"
	"github.com/noaione/spotilava/internal/provider/deezer"
	"github.com/noaione/spotilava/internal/provider/spotify"
	"github.com/noaione/spotilava/internal/provider/tidal"
)

// minChunkSize keeps the buffered head big enough for every container's
// metadata block.
const minChunkSize = 4096

// SpotifyService is the slice of the Spotify provider the routes call.
type SpotifyService interface {
	OpenTrack(ctx context.Context, id string, pick *quality.Picker) (*domain.TrackStream, error)
	OpenEpisode(ctx context.Context, id string, pick *quality.Picker) (*domain.TrackStream, error)
	TrackMetadata(ctx context.Context, id string) (*spotify.Track, error)
	AlbumMetadata(ctx context.Context, id string) (*spotify.Album, error)
	PlaylistMetadata(ctx context.Context, id string) (*spotify.Playlist, error)
	ShowMetadata(ctx context.Context, id string) (*spotify.Show, error)
	EpisodeMetadata(ctx context.Context, id string) (*spotify.Episode, error)
	ArtistTopTracks(ctx context.Context, id string) (*spotify.ArtistTracks, error)
	Region() string
}

// DeezerService is the slice of the Deezer provider the routes call.
type DeezerService interface {
	Ready() bool
	OpenTrack(ctx context.Context, id string) (*domain.TrackStream, error)
	Track(ctx context.Context, id string) (*deezer.Track, error)
	Album(ctx context.Context, id string) (*deezer.Album, error)
	Playlist(ctx context.Context, id string) (*deezer.Playlist, error)
	ArtistTopTracks(ctx context.Context, id string) ([]deezer.Track, error)
}

// TidalService is the slice of the Tidal provider the routes call.
type TidalService interface {
	Ready() bool
	OpenTrack(ctx context.Context, id string) (*domain.TrackStream, error)
	Track(ctx context.Context, id string) (*tidal.Track, error)
	Album(ctx context.Context, id string) (*tidal.Album, error)
	Playlist(ctx context.Context, id string) (*tidal.Playlist, error)
}

// Config wires the providers and tunables the routes serve from. A nil
// provider answers its routes with a not-connected error, matching a
// disabled section in the config file.
type Config struct {
	Spotify   SpotifyService
	Deezer    DeezerService
	Tidal     TidalService
	ChunkSize int
	Logger    zerolog.Logger
}

// Server holds the route handlers and their shared collaborators.
type Server struct {
	spotify SpotifyService
	deezer  DeezerService
	tidal   TidalService

	inject *tagging.Injector
	chunk  int
	log    zerolog.Logger
}

func New(cfg Config) *Server {
	chunk := cfg.ChunkSize
	if chunk < minChunkSize {
		chunk = minChunkSize
	}
	return &Server{
		spotify: cfg.Spotify,
		deezer:  cfg.Deezer,
		tidal:   cfg.Tidal,
		inject:  tagging.NewInjector(cfg.Logger),
		chunk:   chunk,
		log:     cfg.Logger.With().Str("component", "http").Logger(),
	}
}

// Handler builds the route mux. The root pattern carries the banner and
// the bare Spotify track routes; everything else hangs off a prefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/album/", s.handleAlbum)
	mux.HandleFunc("/playlist/", s.handlePlaylist)
	mux.HandleFunc("/show/", s.handleShow)
	mux.HandleFunc("/artist/", s.handleArtist)
	mux.HandleFunc("/episode/", s.handleEpisode)
	mux.HandleFunc("/meta/region", s.handleRegion)
	mux.HandleFunc("/deezer/", s.handleDeezer)
	mux.HandleFunc("/tidal/", s.handleTidal)
	return mux
}

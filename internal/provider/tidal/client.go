// ABOUTME: Tidal API client resolving playback manifests into audio sources
// ABOUTME: Negotiates quality grants and dispatches BTS, DASH and HLS manifest kinds

package tidal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/noaione/spotilava/internal/infrastructure/cryptoctr"
	"github.com/noaione/spotilava/internal/infrastructure/manifest"
	"github.com/noaione/spotilava/internal/infrastructure/stream"
)

const (
	defaultAPIBase = "https://api.tidal.com/v1"

	modeOffline = "OFFLINE"
	modeStream  = "STREAM"

	// apiRate caps catalog and playback gateway calls per second.
	apiRate = 10

	// itemsPageSize is the /items listing page length.
	itemsPageSize = 100
)

// TokenSource mints the bearer token for every API call. Refreshing an
// expired credential is the source's business; the client just asks again.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource over a fixed access token from config.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// Config carries the account parameters the client cannot discover itself.
type Config struct {
	Tokens      TokenSource
	CountryCode string
	Quality     Quality
}

// Client resolves tracks against the Tidal API and opens their payload
// streams, decoding whichever manifest kind the playback gateway serves.
type Client struct {
	apiBase string
	country string
	quality Quality
	tokens  TokenSource

	// Catalog calls get a deadline; segment and payload fetches must not,
	// because audio bodies outlive any sane request timeout.
	api     *http.Client
	media   *http.Client
	limiter ratelimit.Limiter
	log     zerolog.Logger
}

// New builds a client. An unknown cfg.Quality falls back to lossless.
func New(cfg Config, logger zerolog.Logger) *Client {
	quality := cfg.Quality
	if quality.Rank() < 0 {
		quality = QualityLossless
	}
	return &Client{
		apiBase: defaultAPIBase,
		country: cfg.CountryCode,
		quality: quality,
		tokens:  cfg.Tokens,
		api:     &http.Client{Timeout: 30 * time.Second},
		media:   &http.Client{},
		limiter: ratelimit.New(apiRate),
		log:     logger.With().Str("provider", "tidal").Logger(),
	}
}

// Ready reports whether the client holds credentials to call with.
func (c *Client) Ready() bool {
	return c.tokens != nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("countryCode", c.country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	c.limiter.Take()
	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lookup returned status %d: %w", resp.StatusCode, domain.ErrTrackNotFound)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Track fetches one track's catalog document.
func (c *Client) Track(ctx context.Context, id string) (*Track, error) {
	c.log.Info().Str("track", id).Msg("requesting track")
	var raw apiTrack
	if err := c.getJSON(ctx, c.apiBase+"/tracks/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, fmt.Errorf("track %s: %w", id, err)
	}
	track := trackFromAPI(raw)
	return &track, nil
}

type playbackInfo struct {
	AudioQuality     string `json:"audioQuality"`
	ManifestMimeType string `json:"manifestMimeType"`
	Manifest         string `json:"manifest"`
}

// playbackInfo asks the playback gateway for a manifest in the given mode.
func (c *Client) playbackInfo(ctx context.Context, id, mode string, quality Quality) (*playbackInfo, error) {
	params := url.Values{}
	params.Set("audioquality", string(quality))
	params.Set("playbackmode", mode)
	params.Set("assetpresentation", "FULL")

	c.log.Info().Str("track", id).Str("mode", mode).Msg("fetching playback info")
	var info playbackInfo
	err := c.getJSON(ctx, c.apiBase+"/tracks/"+url.PathEscape(id)+"/playbackinfopostpaywall", params, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// OpenTrack resolves a track, negotiates the best playback grant the
// account can get, and opens whichever manifest kind came back.
func (c *Client) OpenTrack(ctx context.Context, id string) (*domain.TrackStream, error) {
	if !c.Ready() {
		return nil, domain.ErrProviderNotReady
	}
	track, err := c.Track(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := c.playbackInfo(ctx, id, modeOffline, c.quality)
	if err != nil {
		c.log.Warn().Err(err).Str("track", id).Msg("offline playback refused, trying stream mode")
		info, err = c.playbackInfo(ctx, id, modeStream, c.quality)
		if err != nil {
			return nil, fmt.Errorf("track %s: no playback grant: %w", id, domain.ErrUnplayable)
		}
	} else if granted := Quality(info.AudioQuality); granted != track.quality && track.quality.Rank() >= 0 {
		// The grant fell short of the catalog quality; stream mode
		// sometimes unlocks a better rendition.
		c.log.Warn().Str("track", id).Str("granted", string(granted)).
			Str("catalog", string(track.quality)).Msg("quality mismatch, probing stream mode")
		upgraded, uerr := c.playbackInfo(ctx, id, modeStream, track.quality)
		if uerr == nil && Quality(upgraded.AudioQuality).Rank() > granted.Rank() {
			c.log.Info().Str("track", id).Str("quality", upgraded.AudioQuality).
				Msg("stream mode granted better quality")
			info = upgraded
		}
	}

	src, mime, codecs, err := c.openManifest(ctx, id, info)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("track", id).Str("mime", mime).Msg("stream opened")
	return &domain.TrackStream{
		Source:   src,
		Metadata: track.Metadata(),
		MimeHint: mime,
		ExtHint:  streamExt(mime, codecs),
	}, nil
}

// openManifest turns a playback grant into a live audio source plus the
// payload mime and codecs the manifest names.
func (c *Client) openManifest(ctx context.Context, id string, info *playbackInfo) (domain.AudioSource, string, string, error) {
	kind := info.ManifestMimeType
	switch {
	case strings.Contains(kind, "vnd.tidal.bts"):
		bts, err := manifest.ParseBTS(info.Manifest)
		if err != nil {
			return nil, "", "", fmt.Errorf("track %s: %w", id, err)
		}
		cfg := stream.DirectConfig{URL: bts.URL()}
		if bts.KeyID != "" {
			keyID := bts.KeyID
			cfg.Decorate = func(body io.Reader) (io.Reader, error) {
				return cryptoctr.NewReader(body, keyID)
			}
		}
		c.limiter.Take()
		src, err := stream.OpenDirect(ctx, c.media, cfg)
		if err != nil {
			return nil, "", "", fmt.Errorf("open stream: %w", err)
		}
		return src, bts.MimeType, bts.Codecs, nil

	case strings.Contains(kind, "dash+xml"):
		raw, err := base64.StdEncoding.DecodeString(info.Manifest)
		if err != nil {
			return nil, "", "", fmt.Errorf("track %s: manifest decode: %w", id, domain.ErrBadManifest)
		}
		media, err := manifest.ParseMPD(raw)
		if err != nil {
			return nil, "", "", fmt.Errorf("track %s: %w", id, err)
		}
		reader := manifest.NewReader(manifest.ReaderConfig{Client: c.media}, media, c.log)
		return reader, media.MimeType, media.Codecs, nil

	case strings.Contains(kind, "vnd.apple.mpegurl"):
		raw, err := base64.StdEncoding.DecodeString(info.Manifest)
		if err != nil {
			return nil, "", "", fmt.Errorf("track %s: manifest decode: %w", id, domain.ErrBadManifest)
		}
		media, err := manifest.ParseHLS(bytes.NewReader(raw), nil)
		if err != nil {
			return nil, "", "", fmt.Errorf("track %s: %w", id, err)
		}
		reader := manifest.NewReader(manifest.ReaderConfig{Client: c.media}, media, c.log)
		return reader, "audio/mp4", media.Codecs, nil

	default:
		c.log.Error().Str("track", id).Str("kind", kind).Msg("unknown manifest type")
		return nil, "", "", fmt.Errorf("track %s: manifest type %q: %w", id, kind, domain.ErrBadManifest)
	}
}

// items walks a paged /items listing. A failed page ends the walk with
// whatever already arrived.
func (c *Client) items(ctx context.Context, rawURL string) []json.RawMessage {
	var all []json.RawMessage
	for offset := 0; ; offset += itemsPageSize {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(itemsPageSize))
		params.Set("offset", strconv.Itoa(offset))
		var page struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := c.getJSON(ctx, rawURL, params, &page); err != nil {
			c.log.Warn().Err(err).Str("url", rawURL).Msg("listing page failed, keeping partial results")
			break
		}
		all = append(all, page.Items...)
		if len(page.Items) < itemsPageSize {
			break
		}
	}
	return all
}

// Album fetches an album and its full track listing.
func (c *Client) Album(ctx context.Context, id string) (*Album, error) {
	c.log.Info().Str("album", id).Msg("requesting album")
	base := c.apiBase + "/albums/" + url.PathEscape(id)
	var raw apiAlbum
	if err := c.getJSON(ctx, base, nil, &raw); err != nil {
		return nil, fmt.Errorf("album %s: %w", id, err)
	}
	album := albumFromAPI(raw)
	album.Tracks = tracksFromItems(c.items(ctx, base+"/items"))
	return &album, nil
}

// Playlist fetches a playlist and its full track listing.
func (c *Client) Playlist(ctx context.Context, id string) (*Playlist, error) {
	c.log.Info().Str("playlist", id).Msg("requesting playlist")
	base := c.apiBase + "/playlists/" + url.PathEscape(id)
	var raw apiPlaylist
	if err := c.getJSON(ctx, base, nil, &raw); err != nil {
		return nil, fmt.Errorf("playlist %s: %w", id, err)
	}
	playlist := playlistFromAPI(raw)
	playlist.Tracks = tracksFromItems(c.items(ctx, base+"/items"))
	return &playlist, nil
}

// Close drops idle connections. Open streams hold their own sockets and
// close with their source.
func (c *Client) Close() error {
	c.api.CloseIdleConnections()
	c.media.CloseIdleConnections()
	return nil
}

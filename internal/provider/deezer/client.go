// ABOUTME: Deezer gw API client with striped CDN stream resolution
// ABOUTME: Authenticates via ARL cookie and serves transparently decrypted streams

package deezer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/noaione/spotilava/internal/infrastructure/cryptostripe"
	"github.com/noaione/spotilava/internal/infrastructure/stream"
)

const (
	gwAPI    = "http://www.deezer.com/ajax/gw-light.php"
	mediaAPI = "https://media.deezer.com/v1/get_url"

	methodUserData = "deezer.getUserData"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/79.0.3945.130 Safari/537.36"

	// apiRate caps gw and media gateway calls per second.
	apiRate = 25
)

// Client talks to the unofficial gw-light API that the web player uses.
// Every call authenticates through the ARL cookie; audio is fetched from
// the CDN and striped payloads are decrypted as they are read.
type Client struct {
	gwURL    string
	mediaURL string

	// Metadata calls get a deadline; the media client must not, because
	// audio bodies outlive any sane request timeout.
	api     *http.Client
	media   *http.Client
	limiter ratelimit.Limiter
	log     zerolog.Logger

	user *User
}

// New builds a client around an ARL cookie. Authenticate must succeed
// before any lookup or stream call is made.
func New(arl string, logger zerolog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}
	seed, _ := url.Parse("https://www.deezer.com/")
	jar.SetCookies(seed, []*http.Cookie{{
		Name:   "arl",
		Value:  arl,
		Domain: ".deezer.com",
		Path:   "/",
	}})

	return &Client{
		gwURL:    gwAPI,
		mediaURL: mediaAPI,
		api:      &http.Client{Jar: jar, Timeout: 30 * time.Second},
		media:    &http.Client{Jar: jar},
		limiter:  ratelimit.New(apiRate),
		log:      logger.With().Str("provider", "deezer").Logger(),
	}, nil
}

// Ready reports whether authentication succeeded. Handlers refuse work
// until it has.
func (c *Client) Ready() bool {
	return c.user != nil
}

// Authenticate resolves the account behind the ARL cookie.
func (c *Client) Authenticate(ctx context.Context) error {
	c.log.Info().Msg("authenticating with arl cookie")
	raw, err := c.gwCall(ctx, methodUserData, nil)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	var data gwUserData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("authenticate: decode user data: %w", err)
	}
	user := userFromGW(data)
	// An expired or bogus cookie still answers, as the anonymous user 0.
	if user.ID == "" || user.ID == "0" {
		return errors.New("authenticate: arl cookie rejected")
	}
	c.user = &user
	c.log.Info().Str("user", user.ID).Str("country", user.Country).
		Bool("lossless", user.Lossless).Msg("authenticated")
	return nil
}

// gwCall issues one gw-light method call. Every method except the user data
// bootstrap needs a fresh csrf token, which itself comes from a user data
// call, exactly like the web player does it.
func (c *Client) gwCall(ctx context.Context, method string, body interface{}) (json.RawMessage, error) {
	token := "null"
	if method != methodUserData {
		t, err := c.userToken(ctx)
		if err != nil {
			return nil, err
		}
		token = t
	}

	if body == nil {
		body = struct{}{}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	params := url.Values{}
	params.Set("api_version", "1.0")
	params.Set("api_token", token)
	params.Set("input", "3")
	params.Set("method", method)

	req, err := http.NewRequestWithContext(ctx, "POST", c.gwURL+"?"+params.Encode(), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	c.limiter.Take()
	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gw api: unexpected status %d", resp.StatusCode)
	}

	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Results json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if gwFailed(envelope.Error) {
		return nil, fmt.Errorf("gw api: %s", string(envelope.Error))
	}
	return envelope.Results, nil
}

// gwFailed reports whether the error field carries content. The API sends
// an empty array on success and a populated object on failure.
func gwFailed(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "[]", "{}", "null", "false", "0":
		return false
	}
	return true
}

func (c *Client) userToken(ctx context.Context) (string, error) {
	raw, err := c.gwCall(ctx, methodUserData, nil)
	if err != nil {
		return "", err
	}
	var data struct {
		CheckForm string `json:"checkForm"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode user data: %w", err)
	}
	if data.CheckForm == "" {
		return "", errors.New("gw api: user data carries no csrf token")
	}
	return data.CheckForm, nil
}

// Track fetches one track's catalog document.
func (c *Client) Track(ctx context.Context, id string) (*Track, error) {
	c.log.Info().Str("track", id).Msg("requesting track from gw api")
	raw, err := c.gwCall(ctx, "song.getData", map[string]string{"sng_id": id})
	if err != nil {
		c.log.Warn().Err(err).Str("track", id).Msg("gw lookup failed")
		return nil, fmt.Errorf("track %s: %w", id, domain.ErrTrackNotFound)
	}
	var gt gwTrack
	if err := json.Unmarshal(raw, &gt); err != nil {
		return nil, fmt.Errorf("track %s: decode: %w", id, err)
	}
	track := trackFromGW(gt)
	if track.ID == "" || track.ID == "0" {
		return nil, fmt.Errorf("track %s: %w", id, domain.ErrTrackNotFound)
	}
	return &track, nil
}

// streamURL asks the media gateway for a CDN source of the given format.
// An empty URL with no error means the gateway had nothing to offer.
func (c *Client) streamURL(ctx context.Context, track *Track, format AudioFormat) (string, error) {
	if c.user == nil {
		return "", domain.ErrProviderNotReady
	}
	payload := map[string]interface{}{
		"license_token": c.user.LicenseToken,
		"media": []map[string]interface{}{{
			"type":    "FULL",
			"formats": []map[string]string{{"cipher": "BF_CBC_STRIPE", "format": format.String()}},
		}},
		"track_tokens": []string{track.trackToken},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.mediaURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	c.limiter.Take()
	resp, err := c.api.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media gateway: unexpected status %d", resp.StatusCode)
	}

	var res struct {
		Data []struct {
			Media []struct {
				Sources []struct {
					URL string `json:"url"`
				} `json:"sources"`
			} `json:"media"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(res.Data) == 0 || len(res.Data[0].Media) == 0 || len(res.Data[0].Media[0].Sources) == 0 {
		return "", nil
	}
	return res.Data[0].Media[0].Sources[0].URL, nil
}

// OpenTrack resolves a track and opens its best-quality stream. Striped
// CDN payloads are decrypted transparently as they are read.
func (c *Client) OpenTrack(ctx context.Context, id string) (*domain.TrackStream, error) {
	if !c.Ready() {
		return nil, domain.ErrProviderNotReady
	}
	track, err := c.Track(ctx, id)
	if err != nil {
		return nil, err
	}
	format, ok := track.BestFormat()
	if !ok {
		c.log.Error().Str("track", id).Msg("no playable format advertised")
		return nil, fmt.Errorf("track %s: %w", id, domain.ErrUnplayable)
	}

	c.log.Info().Str("track", id).Str("format", format.String()).Msg("resolving stream url")
	mediaURL, err := c.streamURL(ctx, track, format)
	if err != nil {
		return nil, err
	}
	if mediaURL == "" {
		c.log.Warn().Str("track", id).Msg("media gateway had no source, using legacy url")
		mediaURL = track.legacyURL()
	}
	if mediaURL == "" {
		return nil, fmt.Errorf("track %s: %w", id, domain.ErrUnplayable)
	}

	cfg := stream.DirectConfig{
		URL:              mediaURL,
		Headers:          map[string]string{"User-Agent": userAgent},
		TrimLeadingZeros: true,
	}
	if cryptostripe.IsEncryptedURL(mediaURL) {
		trackID := track.ID
		cfg.Decorate = func(body io.Reader) (io.Reader, error) {
			return cryptostripe.NewReader(body, trackID)
		}
	}

	c.limiter.Take()
	src, err := stream.OpenDirect(ctx, c.media, cfg)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	c.log.Info().Str("track", id).Msg("stream opened")
	return &domain.TrackStream{
		Source:   src,
		Metadata: track.Metadata(),
		MimeHint: format.Mime(),
	}, nil
}

func (c *Client) tracksList(ctx context.Context, method, key, id string) ([]Track, error) {
	raw, err := c.gwCall(ctx, method, map[string]interface{}{key: id, "nb": -1})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", id, err)
	}
	return tracksFromGWList(raw)
}

// Album fetches an album and its full track listing.
func (c *Client) Album(ctx context.Context, id string) (*Album, error) {
	c.log.Info().Str("album", id).Msg("requesting album from gw api")
	raw, err := c.gwCall(ctx, "album.getData", map[string]string{"alb_id": id})
	if err != nil {
		c.log.Warn().Err(err).Str("album", id).Msg("gw lookup failed")
		return nil, fmt.Errorf("album %s: %w", id, domain.ErrTrackNotFound)
	}
	var ga gwAlbum
	if err := json.Unmarshal(raw, &ga); err != nil {
		return nil, fmt.Errorf("album %s: decode: %w", id, err)
	}
	album := albumFromGW(ga)
	tracks, err := c.tracksList(ctx, "song.getListByAlbum", "alb_id", id)
	if err != nil {
		return nil, err
	}
	album.Tracks = tracks
	return &album, nil
}

// Playlist fetches a playlist page and its full track listing. The page
// document may carry a truncated song list, so the listing is always
// re-fetched without a limit.
func (c *Client) Playlist(ctx context.Context, id string) (*Playlist, error) {
	c.log.Info().Str("playlist", id).Msg("requesting playlist from gw api")
	raw, err := c.gwCall(ctx, "deezer.pagePlaylist", map[string]interface{}{
		"playlist_id": id,
		"header":      true,
		"lang":        "en",
		"tab":         0,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("playlist", id).Msg("gw lookup failed")
		return nil, fmt.Errorf("playlist %s: %w", id, domain.ErrTrackNotFound)
	}
	var gp gwPlaylistPage
	if err := json.Unmarshal(raw, &gp); err != nil {
		return nil, fmt.Errorf("playlist %s: decode: %w", id, err)
	}
	playlist := playlistFromGW(gp)
	tracks, err := c.tracksList(ctx, "playlist.getSongs", "playlist_id", id)
	if err != nil {
		return nil, err
	}
	playlist.Tracks = tracks
	return &playlist, nil
}

// ArtistTopTracks fetches the artist's 25 most popular tracks.
func (c *Client) ArtistTopTracks(ctx context.Context, id string) ([]Track, error) {
	c.log.Info().Str("artist", id).Msg("requesting artist top tracks from gw api")
	raw, err := c.gwCall(ctx, "artist.getTopTrack", map[string]interface{}{"art_id": id, "nb": 25})
	if err != nil {
		c.log.Warn().Err(err).Str("artist", id).Msg("gw lookup failed")
		return nil, fmt.Errorf("artist %s: %w", id, domain.ErrTrackNotFound)
	}
	return tracksFromGWList(raw)
}

// Close drops idle connections. Open streams hold their own sockets and
// close with their source.
func (c *Client) Close() error {
	c.api.CloseIdleConnections()
	c.media.CloseIdleConnections()
	return nil
}

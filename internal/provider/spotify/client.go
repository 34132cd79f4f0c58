// ABOUTME: Spotify provider: session-backed audio plus Web API metadata
// ABOUTME: Handles quality fallback, broken-socket reconnects and pagination

package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/noaione/spotilava/internal/domain/quality"
	"github.com/noaione/spotilava/internal/infrastructure/stream"
)

const (
	defaultAPIBase = "https://api.spotify.com/v1"

	// hydrateWorkers bounds concurrent track-document fetches when a
	// listing needs per-entry hydration.
	hydrateWorkers = 4
)

// Client resolves Spotify IDs into playable streams and JSON metadata.
// Audio travels over the injected session; metadata lookups hit the public
// Web API with a bearer token minted by that same session.
type Client struct {
	session SessionHandle
	apiBase string
	http    *http.Client
	log     zerolog.Logger

	mu  sync.Mutex
	rec *reconnectCall
}

// reconnectCall is one reconnect in flight. Callers that hit a broken
// session while it runs wait on done and share its result instead of
// starting their own attempt.
type reconnectCall struct {
	done chan struct{}
	err  error
}

// New wraps an established session handle.
func New(session SessionHandle, logger zerolog.Logger) *Client {
	return &Client{
		session: session,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger.With().Str("provider", "spotify").Logger(),
	}
}

// OpenTrack resolves a track and opens its audio stream. A nil picker asks
// for the highest quality with the default vorbis-first fallback.
func (c *Client) OpenTrack(ctx context.Context, id string, pick *quality.Picker) (*domain.TrackStream, error) {
	return c.open(ctx, id, pick, c.session.StreamTrack)
}

// OpenEpisode resolves a podcast episode and opens its audio stream.
func (c *Client) OpenEpisode(ctx context.Context, id string, pick *quality.Picker) (*domain.TrackStream, error) {
	return c.open(ctx, id, pick, c.session.StreamEpisode)
}

func (c *Client) open(
	ctx context.Context,
	id string,
	pick *quality.Picker,
	load func(context.Context, string, *quality.Picker) (*SessionStream, error),
) (*domain.TrackStream, error) {
	if pick == nil {
		pick = quality.NewPicker(quality.VeryHigh)
	}
	c.log.Info().Str("id", id).Msg("loading stream from session")
	st, err := load(ctx, id, pick)
	if err != nil && shouldReconnect(err) {
		c.log.Warn().Err(err).Str("id", id).Msg("session socket broke, reconnecting")
		if rerr := c.forceReconnect(ctx); rerr != nil {
			return nil, fmt.Errorf("reconnect session: %w", rerr)
		}
		st, err = load(ctx, id, pick)
	}
	if err != nil {
		return nil, err
	}
	return &domain.TrackStream{
		Source:   stream.NewSession(st.Audio),
		Metadata: sessionMetadata(st),
		MimeHint: formatMime(st.Format),
	}, nil
}

// sessionMetadata flattens the catalog entry behind an opened stream into
// the shape the tag injector consumes. Episodes have no album or artist of
// their own, so the show name stands in for both.
func sessionMetadata(st *SessionStream) domain.TrackMetadata {
	if st.Episode != nil {
		ep := st.Episode
		return domain.TrackMetadata{
			ID:       ep.ID,
			Title:    ep.Name,
			Album:    ep.Show,
			Artists:  []string{ep.Show},
			Duration: ep.Duration,
		}
	}
	tr := st.Track
	return domain.TrackMetadata{
		ID:       tr.ID,
		Title:    tr.Name,
		Album:    tr.Album,
		Artists:  tr.Artists,
		Duration: tr.Duration,
	}
}

// formatMime maps the chosen encoding to the container hint the sniffer
// falls back on for opaque payloads.
func formatMime(f quality.Format) string {
	if f.Family() == quality.MP3 {
		return "audio/mpeg"
	}
	return "audio/ogg"
}

// shouldReconnect reports whether an error means the session socket died
// under us rather than the request itself being bad.
func shouldReconnect(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// forceReconnect re-establishes the session. Only one reconnect runs at a
// time; concurrent callers wait for the active one and share its result.
// The attempt itself is detached from the initiating request so a client
// hanging up cannot abort a reconnect other callers depend on.
func (c *Client) forceReconnect(ctx context.Context) error {
	c.mu.Lock()
	if call := c.rec; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &reconnectCall{done: make(chan struct{})}
	c.rec = call
	c.mu.Unlock()

	go func() {
		call.err = c.session.Reconnect(context.WithoutCancel(ctx))
		close(call.done)
		c.mu.Lock()
		c.rec = nil
		c.mu.Unlock()
	}()

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// token mints a Web API bearer token, retrying once behind a reconnect
// when the session socket turns out to be dead.
func (c *Client) token(ctx context.Context) (string, error) {
	tok, err := c.session.AccessToken(ctx)
	if err == nil {
		return tok, nil
	}
	if !shouldReconnect(err) {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	c.log.Warn().Err(err).Msg("session socket broke, reconnecting")
	if rerr := c.forceReconnect(ctx); rerr != nil {
		return "", fmt.Errorf("reconnect session: %w", rerr)
	}
	tok, err = c.session.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	return tok, nil
}

// getJSON fetches one Web API document. Any non-200 answer is reported as
// the entity not existing, which matches how the upstream API behaves for
// unknown and malformed IDs alike.
func (c *Client) getJSON(ctx context.Context, token, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
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

// collectPages walks a paginated listing, merging every page's items. The
// cursor comes from the previous response; an empty cursor or a non-200
// answer stops the walk with whatever was collected so far.
func (c *Client) collectPages(ctx context.Context, token, next string) ([]json.RawMessage, error) {
	var merged []json.RawMessage
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, "GET", next, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			break
		}
		var page apiPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		merged = append(merged, page.Items...)
		next = page.Next
	}
	return merged, nil
}

// TrackMetadata fetches the metadata document for one track.
func (c *Client) TrackMetadata(ctx context.Context, id string) (*Track, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("track", id).Msg("requesting track metadata")
	var raw apiTrack
	if err := c.getJSON(ctx, token, c.apiBase+"/tracks/"+id, &raw); err != nil {
		return nil, err
	}
	track := trackFromAPI(raw)
	return &track, nil
}

// AlbumMetadata fetches an album and its complete track listing, following
// the pagination cursor until every page has been merged, then hydrates
// each entry into a full track document.
func (c *Client) AlbumMetadata(ctx context.Context, id string) (*Album, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("album", id).Msg("requesting album metadata")
	var raw apiAlbum
	if err := c.getJSON(ctx, token, c.apiBase+"/albums/"+id, &raw); err != nil {
		return nil, err
	}
	album := albumFromAPI(raw)
	if raw.Tracks.Next != "" {
		c.log.Info().Str("album", id).Msg("album has more pages, fetching")
		items, err := c.collectPages(ctx, token, raw.Tracks.Next)
		if err != nil {
			return nil, err
		}
		album.Tracks = append(album.Tracks, tracksFromAlbumItems(items)...)
	}
	c.hydrateAlbumTracks(ctx, token, &album)
	return &album, nil
}

// hydrateAlbumTracks re-fetches each listing entry as a full document
// through a bounded worker pool. Album pages carry simplified tracks with
// no album reference of their own, so without this pass every entry would
// serve without artwork. Entries whose fetch fails keep the simplified
// document.
func (c *Client) hydrateAlbumTracks(ctx context.Context, token string, album *Album) {
	pool, err := ants.NewPool(hydrateWorkers)
	if err == nil {
		defer pool.Release()
		c.log.Info().Int("tracks", len(album.Tracks)).Msg("hydrating album tracks")
		var wg sync.WaitGroup
		for i := range album.Tracks {
			i := i // pin per-iteration value; required under pre-1.22 loop semantics
			wg.Add(1)
			task := func() {
				defer wg.Done()
				var raw apiTrack
				if err := c.getJSON(ctx, token, c.apiBase+"/tracks/"+album.Tracks[i].ID, &raw); err != nil || raw.ID == "" {
					return
				}
				album.Tracks[i] = trackFromAPI(raw)
			}
			if err := pool.Submit(task); err != nil {
				wg.Done()
			}
		}
		wg.Wait()
	} else {
		c.log.Warn().Err(err).Msg("hydration pool failed to start")
	}

	// Whatever the pool could not improve still names its parent album.
	for i := range album.Tracks {
		if album.Tracks[i].Album == "" {
			album.Tracks[i].Album = album.Name
		}
		if album.Tracks[i].Image == "" {
			album.Tracks[i].Image = album.Image
		}
	}
}

// PlaylistMetadata fetches a playlist and its complete track listing.
func (c *Client) PlaylistMetadata(ctx context.Context, id string) (*Playlist, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("playlist", id).Msg("requesting playlist metadata")
	var raw apiPlaylist
	if err := c.getJSON(ctx, token, c.apiBase+"/playlists/"+id, &raw); err != nil {
		return nil, err
	}
	playlist := playlistFromAPI(raw)
	if raw.Tracks.Next != "" {
		c.log.Info().Str("playlist", id).Msg("playlist has more pages, fetching")
		items, err := c.collectPages(ctx, token, raw.Tracks.Next)
		if err != nil {
			return nil, err
		}
		playlist.Tracks = append(playlist.Tracks, tracksFromPlaylistItems(items)...)
	}
	return &playlist, nil
}

// ShowMetadata fetches a podcast show and its complete episode listing.
func (c *Client) ShowMetadata(ctx context.Context, id string) (*Show, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("show", id).Msg("requesting show metadata")
	var raw apiShow
	if err := c.getJSON(ctx, token, c.apiBase+"/shows/"+id, &raw); err != nil {
		return nil, err
	}
	show := showFromAPI(raw)
	if raw.Episodes.Next != "" {
		c.log.Info().Str("show", id).Msg("show has more pages, fetching")
		items, err := c.collectPages(ctx, token, raw.Episodes.Next)
		if err != nil {
			return nil, err
		}
		parent := apiShowRef{Name: raw.Name, Publisher: raw.Publisher}
		show.Episodes = append(show.Episodes, episodesFromItems(items, parent)...)
	}
	return &show, nil
}

// EpisodeMetadata fetches the metadata document for one podcast episode.
func (c *Client) EpisodeMetadata(ctx context.Context, id string) (*Episode, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("episode", id).Msg("requesting episode metadata")
	var raw apiEpisode
	if err := c.getJSON(ctx, token, c.apiBase+"/episodes/"+id, &raw); err != nil {
		return nil, err
	}
	episode := episodeFromAPI(raw, apiShowRef{})
	return &episode, nil
}

// ArtistTopTracks fetches an artist and their top tracks in the account's
// region.
func (c *Client) ArtistTopTracks(ctx context.Context, id string) (*ArtistTracks, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("artist", id).Msg("requesting artist metadata")
	var raw apiArtistDoc
	if err := c.getJSON(ctx, token, c.apiBase+"/artists/"+id, &raw); err != nil {
		return nil, err
	}
	if raw.Type != "artist" {
		c.log.Warn().Str("artist", id).Str("type", raw.Type).Msg("id does not belong to an artist")
		return nil, fmt.Errorf("id is a %q: %w", raw.Type, domain.ErrTrackNotFound)
	}

	topURL := c.apiBase + "/artists/" + id + "/top-tracks"
	if country := c.session.Country(); country != "" {
		topURL += "?market=" + url.QueryEscape(country)
	}
	var top struct {
		Tracks []apiTrack `json:"tracks"`
	}
	if err := c.getJSON(ctx, token, topURL, &top); err != nil {
		return nil, err
	}

	out := &ArtistTracks{
		Artist: Artist{ID: raw.ID, Name: raw.Name, Image: firstImage(raw.Images)},
		Tracks: make([]Track, 0, len(top.Tracks)),
	}
	for _, t := range top.Tracks {
		out.Tracks = append(out.Tracks, trackFromAPI(t))
	}
	return out, nil
}

// Region reports the region code of the connected account.
func (c *Client) Region() string {
	return c.session.Country()
}

// Close shuts the underlying session down.
func (c *Client) Close() error {
	return c.session.Close()
}

// ABOUTME: Tests for the Deezer gw API client
// ABOUTME: Covers authentication, token plumbing, lookups and striped stream decryption

package deezer

import (
	"bytes"
	"context"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"golang.org/x/crypto/blowfish"

	"github.com/noaione/spotilava/internal/domain"
	"github.com/noaione/spotilava/internal/infrastructure/cryptostripe"
)

const userDataJSON = `{
	"USER": {
		"USER_ID": 2933941,
		"OPTIONS": {
			"license_token": "license-abc",
			"web_hq": true,
			"mobile_hq": true,
			"web_lossless": true,
			"mobile_lossless": false,
			"license_country": "ID"
		}
	},
	"checkForm": "check-form-token"
}`

const anonymousUserJSON = `{"USER": {"USER_ID": 0, "OPTIONS": {}}, "checkForm": "check-form-token"}`

func gwTrackJSON(id string) string {
	return fmt.Sprintf(`{
		"SNG_ID": %q,
		"SNG_TITLE": "Test Title",
		"ART_NAME": "Solo Artist",
		"ALB_TITLE": "Test Album",
		"ALB_PICTURE": "abcdef123",
		"DURATION": "242",
		"MD5_ORIGIN": "ffffffffffffffffffffffffffffffff",
		"TRACK_TOKEN": "track-token-1",
		"MEDIA_VERSION": "5",
		"FILESIZE_MP3_128": "1000",
		"FILESIZE_MP3_256": "0",
		"FILESIZE_MP3_320": "3000",
		"FILESIZE_FLAC": "9000"
	}`, id)
}

// gwServer fakes the gw-light endpoint. It enforces the csrf token dance:
// user data calls carry the literal token "null", everything else must
// present the checkForm value from a prior user data call.
type gwServer struct {
	t        *testing.T
	userData string
	results  map[string]string
	failures map[string]string

	calls  []string
	bodies map[string]string
}

func newGWServer(t *testing.T) *gwServer {
	return &gwServer{
		t:        t,
		userData: userDataJSON,
		results:  map[string]string{},
		failures: map[string]string{},
		bodies:   map[string]string{},
	}
}

func (g *gwServer) count(method string) int {
	total := 0
	for _, m := range g.calls {
		if m == method {
			total++
		}
	}
	return total
}

func (g *gwServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	token := r.URL.Query().Get("api_token")
	body, _ := io.ReadAll(r.Body)
	g.calls = append(g.calls, method)
	g.bodies[method] = string(body)

	if method == methodUserData {
		if token != "null" {
			g.t.Errorf("expected api_token null for user data, got %q", token)
		}
		fmt.Fprintf(w, `{"error":[],"results":%s}`, g.userData)
		return
	}
	if token != "check-form-token" {
		g.t.Errorf("expected csrf token for %s, got %q", method, token)
	}
	if failure, ok := g.failures[method]; ok {
		fmt.Fprintf(w, `{"error":%s,"results":null}`, failure)
		return
	}
	result, ok := g.results[method]
	if !ok {
		g.t.Errorf("unexpected gw method %s", method)
		fmt.Fprint(w, `{"error":{"UNKNOWN":"no fixture"},"results":null}`)
		return
	}
	fmt.Fprintf(w, `{"error":[],"results":%s}`, result)
}

func newTestClient(t *testing.T, gwURL, mediaURL string) *Client {
	t.Helper()
	client, err := New("test-arl", zerolog.Nop())
	if err != nil {
		t.Fatalf("expected client, got error: %v", err)
	}
	client.gwURL = gwURL
	client.mediaURL = mediaURL
	client.limiter = ratelimit.NewUnlimited()
	return client
}

func authedClient(t *testing.T, gw *gwServer, mux *http.ServeMux) (*Client, *httptest.Server) {
	t.Helper()
	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.Handle("/gw", gw)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL+"/gw", server.URL+"/get_url")
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("expected authentication to pass, got %v", err)
	}
	return client, server
}

func TestAuthenticate_ResolvesAccount(t *testing.T) {
	gw := newGWServer(t)
	client, _ := authedClient(t, gw, nil)

	if !client.Ready() {
		t.Fatal("expected client to be ready after authentication")
	}
	if client.user.ID != "2933941" {
		t.Errorf("expected user id 2933941, got %q", client.user.ID)
	}
	if client.user.Country != "ID" {
		t.Errorf("expected country ID, got %q", client.user.Country)
	}
	if client.user.LicenseToken != "license-abc" {
		t.Errorf("expected license token license-abc, got %q", client.user.LicenseToken)
	}
	if !client.user.Lossless {
		t.Error("expected lossless account")
	}
}

func TestAuthenticate_RejectsAnonymousCookie(t *testing.T) {
	gw := newGWServer(t)
	gw.userData = anonymousUserJSON
	mux := http.NewServeMux()
	mux.Handle("/gw", gw)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL+"/gw", server.URL+"/get_url")
	if err := client.Authenticate(context.Background()); err == nil {
		t.Fatal("expected authentication to fail for the anonymous user")
	}
	if client.Ready() {
		t.Error("expected client to stay not ready")
	}
}

func TestTrack_ParsesCatalogDocument(t *testing.T) {
	gw := newGWServer(t)
	gw.results["song.getData"] = gwTrackJSON("123456")
	client, _ := authedClient(t, gw, nil)

	track, err := client.Track(context.Background(), "123456")
	if err != nil {
		t.Fatalf("expected track, got error: %v", err)
	}
	if track.Title != "Test Title" {
		t.Errorf("expected title Test Title, got %q", track.Title)
	}
	if track.Duration != 242 {
		t.Errorf("expected duration 242, got %d", track.Duration)
	}
	if len(track.Artists) != 1 || track.Artists[0] != "Solo Artist" {
		t.Errorf("expected single artist Solo Artist, got %v", track.Artists)
	}
	if !strings.Contains(track.Image, "cover/abcdef123") {
		t.Errorf("expected cover image url, got %q", track.Image)
	}
	format, ok := track.BestFormat()
	if !ok || format != FormatFLAC {
		t.Errorf("expected best format FLAC, got %v (ok=%v)", format, ok)
	}
	if !strings.Contains(gw.bodies["song.getData"], `"sng_id":"123456"`) {
		t.Errorf("expected sng_id in request body, got %s", gw.bodies["song.getData"])
	}
}

func TestTrack_GWErrorMeansNotFound(t *testing.T) {
	gw := newGWServer(t)
	gw.failures["song.getData"] = `{"DATA_ERROR":"no data"}`
	client, _ := authedClient(t, gw, nil)

	_, err := client.Track(context.Background(), "999")
	if !errors.Is(err, domain.ErrTrackNotFound) {
		t.Fatalf("expected ErrTrackNotFound, got %v", err)
	}
}

// stripeEncrypt applies the striped scheme the CDN uses: the first full
// 2048-byte block Blowfish-CBC encrypted, everything after it untouched.
func stripeEncrypt(t *testing.T, trackID string, plain []byte) []byte {
	t.Helper()
	block, err := blowfish.NewCipher(cryptostripe.DeriveTrackKey(trackID))
	if err != nil {
		t.Fatalf("expected cipher, got error: %v", err)
	}
	iv := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	out := make([]byte, len(plain))
	copy(out, plain)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[:cryptostripe.BlockSize], out[:cryptostripe.BlockSize])
	return out
}

func TestOpenTrack_DecryptsStripedStream(t *testing.T) {
	plain := make([]byte, cryptostripe.BlockSize+64)
	copy(plain, "fLaC")
	for i := 4; i < len(plain); i++ {
		plain[i] = byte(1 + i%250)
	}
	payload := stripeEncrypt(t, "123456", plain)

	gw := newGWServer(t)
	gw.results["song.getData"] = gwTrackJSON("123456")

	mediaCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/get_url", func(w http.ResponseWriter, r *http.Request) {
		mediaCalls++
		var req struct {
			LicenseToken string `json:"license_token"`
			Media        []struct {
				Formats []struct {
					Cipher string `json:"cipher"`
					Format string `json:"format"`
				} `json:"formats"`
			} `json:"media"`
			TrackTokens []string `json:"track_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("expected media request body, got decode error: %v", err)
		}
		if req.LicenseToken != "license-abc" {
			t.Errorf("expected license token license-abc, got %q", req.LicenseToken)
		}
		if len(req.TrackTokens) != 1 || req.TrackTokens[0] != "track-token-1" {
			t.Errorf("expected track token track-token-1, got %v", req.TrackTokens)
		}
		if len(req.Media) != 1 || len(req.Media[0].Formats) != 1 ||
			req.Media[0].Formats[0].Cipher != "BF_CBC_STRIPE" ||
			req.Media[0].Formats[0].Format != "FLAC" {
			t.Errorf("expected one BF_CBC_STRIPE FLAC format, got %+v", req.Media)
		}
		fmt.Fprintf(w, `{"data":[{"media":[{"sources":[{"url":"http://%s/media/payload"}]}]}]}`, r.Host)
	})
	mux.HandleFunc("/media/payload", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); !strings.Contains(got, "Chrome") {
			t.Errorf("expected browser user-agent, got %q", got)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	})

	client, _ := authedClient(t, gw, mux)
	stream, err := client.OpenTrack(context.Background(), "123456")
	if err != nil {
		t.Fatalf("expected stream, got error: %v", err)
	}
	defer stream.Source.Close()

	if mediaCalls != 1 {
		t.Errorf("expected 1 media gateway call, got %d", mediaCalls)
	}
	if stream.MimeHint != "audio/flac" {
		t.Errorf("expected mime hint audio/flac, got %q", stream.MimeHint)
	}
	if stream.Metadata.Title != "Test Title" {
		t.Errorf("expected title Test Title, got %q", stream.Metadata.Title)
	}
	if stream.Metadata.Duration != 242000 {
		t.Errorf("expected duration 242000ms, got %d", stream.Metadata.Duration)
	}
	if got := stream.Source.Available(); got != len(payload) {
		t.Errorf("expected %d bytes available, got %d", len(payload), got)
	}

	audio, err := stream.ReadAll(context.Background(), 512)
	if err != nil {
		t.Fatalf("expected full read, got error: %v", err)
	}
	if !bytes.Equal(audio, plain) {
		t.Fatalf("expected decrypted payload to match plaintext (%d vs %d bytes)", len(audio), len(plain))
	}
	if got := stream.Source.Available(); got != 0 {
		t.Errorf("expected 0 bytes available after drain, got %d", got)
	}
}

func TestOpenTrack_NoFormatsIsUnplayable(t *testing.T) {
	gw := newGWServer(t)
	gw.results["song.getData"] = `{
		"SNG_ID": "42", "SNG_TITLE": "Ghost", "ART_NAME": "Nobody",
		"FILESIZE_MP3_128": "0", "FILESIZE_FLAC": "0"
	}`

	mediaCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/get_url", func(w http.ResponseWriter, r *http.Request) {
		mediaCalls++
		fmt.Fprint(w, `{"data":[]}`)
	})

	client, _ := authedClient(t, gw, mux)
	_, err := client.OpenTrack(context.Background(), "42")
	if !errors.Is(err, domain.ErrUnplayable) {
		t.Fatalf("expected ErrUnplayable, got %v", err)
	}
	if mediaCalls != 0 {
		t.Errorf("expected no media gateway calls, got %d", mediaCalls)
	}
}

func TestOpenTrack_RequiresAuthentication(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0/gw", "http://127.0.0.1:0/get_url")
	_, err := client.OpenTrack(context.Background(), "123456")
	if !errors.Is(err, domain.ErrProviderNotReady) {
		t.Fatalf("expected ErrProviderNotReady, got %v", err)
	}
}

func TestAlbum_MergesFullListing(t *testing.T) {
	gw := newGWServer(t)
	gw.results["album.getData"] = `{
		"ALB_ID": "777", "ALB_TITLE": "Greatest Hits", "ALB_PICTURE": "pic777",
		"ART_ID": "9", "ART_NAME": "Solo Artist", "ART_PICTURE": "art9"
	}`
	gw.results["song.getListByAlbum"] = fmt.Sprintf(`{"data":[%s,%s]}`,
		gwTrackJSON("1"), gwTrackJSON("2"))

	client, _ := authedClient(t, gw, nil)
	album, err := client.Album(context.Background(), "777")
	if err != nil {
		t.Fatalf("expected album, got error: %v", err)
	}
	if album.Name != "Greatest Hits" {
		t.Errorf("expected album name Greatest Hits, got %q", album.Name)
	}
	if len(album.Artists) != 1 || album.Artists[0].Title != "Solo Artist" {
		t.Errorf("expected fallback artist from album doc, got %v", album.Artists)
	}
	if len(album.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(album.Tracks))
	}
	if !strings.Contains(gw.bodies["song.getListByAlbum"], `"nb":-1`) {
		t.Errorf("expected unlimited listing request, got %s", gw.bodies["song.getListByAlbum"])
	}
}

func TestPlaylist_RefreshesTrackListing(t *testing.T) {
	gw := newGWServer(t)
	gw.results["deezer.pagePlaylist"] = fmt.Sprintf(`{
		"DATA": {
			"PLAYLIST_ID": "555", "TITLE": "Morning Mix",
			"PARENT_USERNAME": "somebody", "PLAYLIST_PICTURE": "mix555"
		},
		"SONGS": {"data": [%s]}
	}`, gwTrackJSON("1"))
	gw.results["playlist.getSongs"] = fmt.Sprintf(`{"data":[%s,%s]}`,
		gwTrackJSON("1"), gwTrackJSON("2"))

	client, _ := authedClient(t, gw, nil)
	playlist, err := client.Playlist(context.Background(), "555")
	if err != nil {
		t.Fatalf("expected playlist, got error: %v", err)
	}
	if playlist.Name != "Morning Mix" {
		t.Errorf("expected playlist name Morning Mix, got %q", playlist.Name)
	}
	if playlist.Creator != "somebody" {
		t.Errorf("expected creator somebody, got %q", playlist.Creator)
	}
	// The page document's truncated song list must lose to the full fetch.
	if len(playlist.Tracks) != 2 {
		t.Fatalf("expected 2 tracks from the full listing, got %d", len(playlist.Tracks))
	}
	body := gw.bodies["deezer.pagePlaylist"]
	for _, want := range []string{`"header":true`, `"lang":"en"`, `"tab":0`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected page request to carry %s, got %s", want, body)
		}
	}
}

func TestArtistTopTracks_ReturnsListing(t *testing.T) {
	gw := newGWServer(t)
	gw.results["artist.getTopTrack"] = fmt.Sprintf(`{"data":[%s,%s]}`,
		gwTrackJSON("1"), gwTrackJSON("2"))

	client, _ := authedClient(t, gw, nil)
	tracks, err := client.ArtistTopTracks(context.Background(), "9")
	if err != nil {
		t.Fatalf("expected tracks, got error: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if !strings.Contains(gw.bodies["artist.getTopTrack"], `"nb":25`) {
		t.Errorf("expected top 25 request, got %s", gw.bodies["artist.getTopTrack"])
	}
}

func TestNew_ArlCookieCoversAPIHosts(t *testing.T) {
	client, err := New("my-arl-token", zerolog.Nop())
	if err != nil {
		t.Fatalf("expected client, got error: %v", err)
	}
	gwHost, _ := url.Parse("https://www.deezer.com/ajax/gw-light.php")
	mediaHost, _ := url.Parse("https://media.deezer.com/v1/get_url")
	for _, target := range []*url.URL{gwHost, mediaHost} {
		found := false
		for _, cookie := range client.api.Jar.Cookies(target) {
			if cookie.Name == "arl" && cookie.Value == "my-arl-token" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected arl cookie for %s", target.Host)
		}
	}
}

func TestGWFailed_ErrorFieldShapes(t *testing.T) {
	falsy := []string{"", "[]", "{}", "null", "false", "0", " [] "}
	for _, raw := range falsy {
		if gwFailed(json.RawMessage(raw)) {
			t.Errorf("expected %q to pass, got failure", raw)
		}
	}
	truthy := []string{`{"DATA_ERROR":"no data"}`, `["boom"]`, `"GATEWAY_ERROR"`}
	for _, raw := range truthy {
		if !gwFailed(json.RawMessage(raw)) {
			t.Errorf("expected %q to fail, got pass", raw)
		}
	}
}

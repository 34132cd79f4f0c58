// ABOUTME: Tests for the Tidal API client
// ABOUTME: Covers quality negotiation, manifest kind dispatch and payload decryption

package tidal

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/noaione/spotilava/internal/domain"
)

func catalogTrackJSON(id, quality string) string {
	return fmt.Sprintf(`{
		"id": %s, "title": "Tides", "duration": 196, "audioQuality": %q,
		"artist": {"id": 3995478, "name": "Test Artist", "picture": "05d72ae4-319f-4237-821f-1d7af9ec8acf"},
		"artists": [{"id": 3995478, "name": "Test Artist"}],
		"album": {"id": 202132351, "title": "Equals", "cover": "e5f3f5bf-8c8f-4fe2-87fd-d7c73626da86"}
	}`, id, quality)
}

func newTestClient(t *testing.T, apiBase string) *Client {
	t.Helper()
	client := New(Config{
		Tokens:      StaticToken("tidal-token"),
		CountryCode: "US",
		Quality:     QualityLossless,
	}, zerolog.Nop())
	client.apiBase = apiBase
	client.limiter = ratelimit.NewUnlimited()
	return client
}

// requireAuth asserts the bearer token and country code every call must carry.
func requireAuth(t *testing.T, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tidal-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("countryCode"); got != "US" {
			t.Errorf("expected countryCode US, got %q", got)
		}
		handler(w, r)
	}
}

func TestTrack_ParsesDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/202132352", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogTrackJSON("202132352", "LOSSLESS"))
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	track, err := client.Track(context.Background(), "202132352")
	if err != nil {
		t.Fatalf("expected track, got error: %v", err)
	}
	if track.Title != "Tides" || track.Album != "Equals" {
		t.Errorf("expected Tides on Equals, got %q on %q", track.Title, track.Album)
	}
	if track.Duration != 196 {
		t.Errorf("expected duration 196, got %d", track.Duration)
	}
	if len(track.Artists) != 1 || track.Artists[0] != "Test Artist" {
		t.Errorf("expected single artist, got %v", track.Artists)
	}
	// Cover hashes arrive dash-separated and map onto URL path segments.
	if !strings.Contains(track.Image, "e5f3f5bf/8c8f/4fe2/87fd/d7c73626da86") {
		t.Errorf("expected resolved cover path, got %q", track.Image)
	}
	if track.quality != QualityLossless {
		t.Errorf("expected catalog quality LOSSLESS, got %q", track.quality)
	}
}

func TestTrack_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/404", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":404}`, http.StatusNotFound)
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Track(context.Background(), "404")
	if !errors.Is(err, domain.ErrTrackNotFound) {
		t.Fatalf("expected ErrTrackNotFound, got %v", err)
	}
}

func TestOpenTrack_RequiresCredentials(t *testing.T) {
	client := New(Config{CountryCode: "US"}, zerolog.Nop())
	_, err := client.OpenTrack(context.Background(), "1")
	if !errors.Is(err, domain.ErrProviderNotReady) {
		t.Fatalf("expected ErrProviderNotReady, got %v", err)
	}
}

func btsManifest(mime, codecs, keyID, payloadURL string) string {
	doc := fmt.Sprintf(`{"mimeType":%q,"codecs":%q,"urls":[%q]`, mime, codecs, payloadURL)
	if keyID != "" {
		doc += fmt.Sprintf(`,"keyId":%q`, keyID)
	}
	doc += "}"
	return base64.StdEncoding.EncodeToString([]byte(doc))
}

func TestOpenTrack_DirectManifest(t *testing.T) {
	payload := append([]byte("fLaC"), bytes.Repeat([]byte{0x5A}, 60)...)

	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/1", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogTrackJSON("1", "LOSSLESS"))
	}))
	mux.HandleFunc("/tracks/1/playbackinfopostpaywall", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if got := query.Get("audioquality"); got != "LOSSLESS" {
			t.Errorf("expected audioquality LOSSLESS, got %q", got)
		}
		if got := query.Get("playbackmode"); got != "OFFLINE" {
			t.Errorf("expected playbackmode OFFLINE, got %q", got)
		}
		if got := query.Get("assetpresentation"); got != "FULL" {
			t.Errorf("expected assetpresentation FULL, got %q", got)
		}
		manifest := btsManifest("audio/flac", "flac", "", "http://"+r.Host+"/payload.flac")
		fmt.Fprintf(w, `{"audioQuality":"LOSSLESS","manifestMimeType":"application/vnd.tidal.bts","manifest":%q}`, manifest)
	}))
	mux.HandleFunc("/payload.flac", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	stream, err := client.OpenTrack(context.Background(), "1")
	if err != nil {
		t.Fatalf("expected stream, got error: %v", err)
	}
	defer stream.Source.Close()

	if stream.MimeHint != "audio/flac" {
		t.Errorf("expected mime hint audio/flac, got %q", stream.MimeHint)
	}
	if stream.ExtHint != ".flac" {
		t.Errorf("expected ext hint .flac, got %q", stream.ExtHint)
	}
	if stream.Metadata.Title != "Tides" || stream.Metadata.Duration != 196000 {
		t.Errorf("expected catalog metadata, got %+v", stream.Metadata)
	}
	audio, err := stream.ReadAll(context.Background(), 16)
	if err != nil {
		t.Fatalf("expected full read, got error: %v", err)
	}
	if !bytes.Equal(audio, payload) {
		t.Fatalf("expected %d payload bytes, got %d", len(payload), len(audio))
	}
}

// sealToken builds a security token the unwrapper accepts: a 16-byte IV
// followed by the CBC-sealed key and nonce under the embedded master key.
func sealToken(t *testing.T, key, nonce []byte) string {
	t.Helper()
	master, err := base64.StdEncoding.DecodeString("UIlTTEMmmLfGowo/UC60x2H45W6MdGgTRfo/umg4754=")
	if err != nil {
		t.Fatalf("expected master key to decode, got %v", err)
	}
	block, err := aes.NewCipher(master)
	if err != nil {
		t.Fatalf("expected master cipher, got error: %v", err)
	}
	plain := make([]byte, 32)
	copy(plain, key)
	copy(plain[16:], nonce)
	iv := []byte("0123456789abcdef")
	sealed := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, plain)
	return base64.StdEncoding.EncodeToString(append(append([]byte{}, iv...), sealed...))
}

func ctrEncrypt(t *testing.T, key, nonce, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("expected payload cipher, got error: %v", err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	out := make([]byte, len(plain))
	cipher.NewCTR(block, iv).XORKeyStream(out, plain)
	return out
}

func TestOpenTrack_DecryptsTokenSealedStream(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := []byte("ABCDEFGH")
	token := sealToken(t, key, nonce)
	plain := append([]byte("ftyp-ish alac payload "), bytes.Repeat([]byte{0x42}, 42)...)
	sealed := ctrEncrypt(t, key, nonce, plain)

	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/2", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogTrackJSON("2", "LOSSLESS"))
	}))
	mux.HandleFunc("/tracks/2/playbackinfopostpaywall", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		manifest := btsManifest("audio/m4a", "alac", token, "http://"+r.Host+"/payload.m4a")
		fmt.Fprintf(w, `{"audioQuality":"LOSSLESS","manifestMimeType":"application/vnd.tidal.bts","manifest":%q}`, manifest)
	}))
	mux.HandleFunc("/payload.m4a", func(w http.ResponseWriter, r *http.Request) {
		w.Write(sealed)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	stream, err := client.OpenTrack(context.Background(), "2")
	if err != nil {
		t.Fatalf("expected stream, got error: %v", err)
	}
	defer stream.Source.Close()

	if stream.ExtHint != ".alac" {
		t.Errorf("expected ext hint .alac, got %q", stream.ExtHint)
	}
	audio, err := stream.ReadAll(context.Background(), 16)
	if err != nil {
		t.Fatalf("expected full read, got error: %v", err)
	}
	if !bytes.Equal(audio, plain) {
		t.Fatalf("expected decrypted payload to match plaintext (%d vs %d bytes)", len(audio), len(plain))
	}
}

func TestOpenTrack_OfflineRefusedFallsBackToStream(t *testing.T) {
	var modes []string
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/3", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogTrackJSON("3", "LOSSLESS"))
	}))
	mux.HandleFunc("/tracks/3/playbackinfopostpaywall", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("playbackmode")
		modes = append(modes, mode)
		if mode == "OFFLINE" {
			http.Error(w, `{"status":401,"subStatus":4005}`, http.StatusUnauthorized)
			return
		}
		manifest := btsManifest("audio/flac", "flac", "", "http://"+r.Host+"/payload")
		fmt.Fprintf(w, `{"audioQuality":"LOSSLESS","manifestMimeType":"application/vnd.tidal.bts","manifest":%q}`, manifest)
	}))
	mux.HandleFunc("/payload", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fLaC"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	stream, err := client.OpenTrack(context.Background(), "3")
	if err != nil {
		t.Fatalf("expected stream after fallback, got error: %v", err)
	}
	defer stream.Source.Close()

	if len(modes) != 2 || modes[0] != "OFFLINE" || modes[1] != "STREAM" {
		t.Errorf("expected OFFLINE then STREAM, got %v", modes)
	}
}

func TestOpenTrack_QualityMismatchProbesStreamMode(t *testing.T) {
	var probeQuality string
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/4", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogTrackJSON("4", "HI_RES"))
	}))
	mux.HandleFunc("/tracks/4/playbackinfopostpaywall", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("playbackmode") == "OFFLINE" {
			manifest := btsManifest("audio/m4a", "mp4a.40.2", "", "http://"+r.Host+"/low")
			fmt.Fprintf(w, `{"audioQuality":"LOW","manifestMimeType":"application/vnd.tidal.bts","manifest":%q}`, manifest)
			return
		}
		// The probe must re-ask with the catalog quality, not the config one.
		probeQuality = query.Get("audioquality")
		manifest := btsManifest("audio/flac", "flac", "", "http://"+r.Host+"/master")
		fmt.Fprintf(w, `{"audioQuality":"HI_RES","manifestMimeType":"application/vnd.tidal.bts","manifest":%q}`, manifest)
	}))
	mux.HandleFunc("/low", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("low-quality-bytes"))
	})
	mux.HandleFunc("/master", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("master-quality-bytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	stream, err := client.OpenTrack(context.Background(), "4")
	if err != nil {
		t.Fatalf("expected stream, got error: %v", err)
	}
	defer stream.Source.Close()

	if probeQuality != "HI_RES" {
		t.Errorf("expected probe with catalog quality HI_RES, got %q", probeQuality)
	}
	audio, err := stream.ReadAll(context.Background(), 64)
	if err != nil {
		t.Fatalf("expected full read, got error: %v", err)
	}
	if string(audio) != "master-quality-bytes" {
		t.Errorf("expected the upgraded stream payload, got %q", audio)
	}
}

func TestOpenTrack_SegmentedManifest(t *testing.T) {
	initPart := append([]byte("fLaC"), bytes.Repeat([]byte{0x01}, 12)...)
	segOne := bytes.Repeat([]byte{0x02}, 24)
	segTwo := bytes.Repeat([]byte{0x03}, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/5", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogTrackJSON("5", "LOSSLESS"))
	}))
	mux.HandleFunc("/tracks/5/playbackinfopostpaywall", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		doc := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011">
  <Period>
    <AdaptationSet contentType="audio" mimeType="audio/mp4">
      <Representation codecs="flac">
        <SegmentTemplate initialization="http://%[1]s/init.mp4" media="http://%[1]s/seg-$Number$.mp4" startNumber="1">
          <SegmentTimeline>
            <S d="1024" r="2"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`, r.Host)
		manifest := base64.StdEncoding.EncodeToString([]byte(doc))
		fmt.Fprintf(w, `{"audioQuality":"LOSSLESS","manifestMimeType":"application/dash+xml","manifest":%q}`, manifest)
	}))
	mux.HandleFunc("/init.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(initPart)
	})
	mux.HandleFunc("/seg-1.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(segOne)
	})
	mux.HandleFunc("/seg-2.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(segTwo)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	stream, err := client.OpenTrack(context.Background(), "5")
	if err != nil {
		t.Fatalf("expected stream, got error: %v", err)
	}
	defer stream.Source.Close()

	if stream.MimeHint != "audio/mp4" {
		t.Errorf("expected mime hint audio/mp4, got %q", stream.MimeHint)
	}
	// MP4-contained FLAC names its file like the container, not the codec.
	if stream.ExtHint != ".m4a" {
		t.Errorf("expected ext hint .m4a, got %q", stream.ExtHint)
	}
	if got := stream.Source.Available(); got != -1 {
		t.Errorf("expected unknown size before the last segment, got %d", got)
	}

	var want []byte
	want = append(want, initPart...)
	want = append(want, segOne...)
	want = append(want, segTwo...)
	audio, err := stream.ReadAll(context.Background(), 16)
	if err != nil {
		t.Fatalf("expected full read, got error: %v", err)
	}
	if !bytes.Equal(audio, want) {
		t.Fatalf("expected segments in order (%d bytes), got %d bytes", len(want), len(audio))
	}
	if got := stream.Source.Available(); got != 0 {
		t.Errorf("expected 0 bytes available after drain, got %d", got)
	}
}

func TestOpenTrack_UnknownManifestKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/6", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, catalogTrackJSON("6", "LOSSLESS"))
	}))
	mux.HandleFunc("/tracks/6/playbackinfopostpaywall", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"audioQuality":"LOSSLESS","manifestMimeType":"application/vnd.tidal.emu","manifest":"bm90aGluZw=="}`)
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.OpenTrack(context.Background(), "6")
	if !errors.Is(err, domain.ErrBadManifest) {
		t.Fatalf("expected ErrBadManifest, got %v", err)
	}
}

func TestAlbum_PaginatesItems(t *testing.T) {
	var offsets []string
	mux := http.NewServeMux()
	mux.HandleFunc("/albums/9", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 9, "title": "Greatest", "cover": "ab-cd",
			"artist": {"id": 7, "name": "Test Artist"}}`)
	}))
	mux.HandleFunc("/albums/9/items", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if got := query.Get("limit"); got != "100" {
			t.Errorf("expected limit 100, got %q", got)
		}
		offsets = append(offsets, query.Get("offset"))

		var items []string
		switch query.Get("offset") {
		case "0":
			for i := 0; i < 100; i++ {
				items = append(items, fmt.Sprintf(`{"item": {"id": %d, "title": "Track %d"}, "type": "track"}`, i, i))
			}
		case "100":
			items = append(items, `{"item": {"id": 100, "title": "Track 100"}, "type": "track"}`)
			items = append(items, `{"item": {"id": 101, "title": "Track 101"}, "type": "track"}`)
		}
		fmt.Fprintf(w, `{"items": [%s]}`, strings.Join(items, ","))
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	album, err := client.Album(context.Background(), "9")
	if err != nil {
		t.Fatalf("expected album, got error: %v", err)
	}
	if album.Name != "Greatest" {
		t.Errorf("expected album Greatest, got %q", album.Name)
	}
	if len(album.Artists) != 1 || album.Artists[0].Name != "Test Artist" {
		t.Errorf("expected fallback artist from album doc, got %v", album.Artists)
	}
	if len(album.Tracks) != 102 {
		t.Fatalf("expected 102 tracks across pages, got %d", len(album.Tracks))
	}
	if album.Tracks[0].ID != "0" || album.Tracks[101].ID != "101" {
		t.Errorf("expected tracks in page order, got first %q last %q",
			album.Tracks[0].ID, album.Tracks[101].ID)
	}
	if len(offsets) != 2 || offsets[0] != "0" || offsets[1] != "100" {
		t.Errorf("expected offsets [0 100], got %v", offsets)
	}
}

func TestPlaylist_EditorialCreator(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlists/aabb-ccdd", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"uuid": "aabb-ccdd", "title": "Morning Focus",
			"squareImage": "aa-bb", "creator": {"id": 0}}`)
	}))
	mux.HandleFunc("/playlists/aabb-ccdd/items", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [
			{"item": {"id": 1, "title": "One"}, "type": "track"},
			{"item": {"id": 2, "title": "Two"}, "type": "track"},
			{"cutId": null, "type": "video"}
		]}`)
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	playlist, err := client.Playlist(context.Background(), "aabb-ccdd")
	if err != nil {
		t.Fatalf("expected playlist, got error: %v", err)
	}
	if playlist.ID != "aabb-ccdd" {
		t.Errorf("expected uuid id, got %q", playlist.ID)
	}
	if playlist.Creator != "TIDAL" {
		t.Errorf("expected editorial creator TIDAL, got %q", playlist.Creator)
	}
	if !strings.Contains(playlist.Image, "aa/bb") {
		t.Errorf("expected square image fallback, got %q", playlist.Image)
	}
	if len(playlist.Tracks) != 2 {
		t.Fatalf("expected 2 tracks with the video entry skipped, got %d", len(playlist.Tracks))
	}
}

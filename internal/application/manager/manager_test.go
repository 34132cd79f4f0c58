// ABOUTME: Tests for provider construction and lifecycle without touching the network
// ABOUTME: Spotify dialing goes through a stub SessionDialer

package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/noaione/spotilava/internal/application/config"
	"github.com/noaione/spotilava/internal/domain/quality"
	"github.com/noaione/spotilava/internal/provider/spotify"
	"github.com/noaione/spotilava/internal/provider/tidal"
)

type fakeSession struct {
	country string
	closed  bool
}

func (f *fakeSession) StreamTrack(ctx context.Context, id string, pick *quality.Picker) (*spotify.SessionStream, error) {
	return nil, errors.New("not streaming in tests")
}

func (f *fakeSession) StreamEpisode(ctx context.Context, id string, pick *quality.Picker) (*spotify.SessionStream, error) {
	return nil, errors.New("not streaming in tests")
}

func (f *fakeSession) AccessToken(ctx context.Context) (string, error) {
	return "token", nil
}

func (f *fakeSession) Country() string {
	return f.country
}

func (f *fakeSession) Reconnect(ctx context.Context) error {
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func baseConfig() *config.Config {
	return &config.Config{
		Listen:    config.ListenConfig{Host: "127.0.0.1", Port: 37784},
		ChunkSize: 4096,
	}
}

func TestNew_BuildsEnabledProviders(t *testing.T) {
	cfg := baseConfig()
	cfg.Deezer = config.DeezerConfig{Enabled: true, ARL: "deadbeef"}
	cfg.Tidal = config.TidalConfig{Enabled: true, AccessToken: "tok", Quality: "LOSSLESS"}

	m, err := New(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sc := m.ServerConfig()
	if sc.Deezer == nil {
		t.Error("expected deezer service wired, got nil")
	}
	if sc.Tidal == nil {
		t.Error("expected tidal service wired, got nil")
	}
	if sc.Spotify != nil {
		t.Error("expected spotify nil before Start, got a service")
	}
	if sc.ChunkSize != 4096 {
		t.Errorf("expected chunk size 4096, got %d", sc.ChunkSize)
	}
}

func TestNew_DisabledProvidersStayNil(t *testing.T) {
	m, err := New(baseConfig(), zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sc := m.ServerConfig()
	if sc.Spotify != nil || sc.Deezer != nil || sc.Tidal != nil {
		t.Errorf("expected all services nil, got %+v", sc)
	}
}

func TestNew_CredentiallessProvidersStayNil(t *testing.T) {
	cfg := baseConfig()
	cfg.Deezer = config.DeezerConfig{Enabled: true}
	cfg.Tidal = config.TidalConfig{Enabled: true}

	m, err := New(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sc := m.ServerConfig()
	if sc.Deezer != nil {
		t.Error("expected deezer nil without arl, got a service")
	}
	if sc.Tidal != nil {
		t.Error("expected tidal nil without tokens, got a service")
	}
}

func TestStart_DialsSpotify(t *testing.T) {
	cfg := baseConfig()
	cfg.Spotify = config.SpotifyConfig{Enabled: true, Username: "someone", Password: "hunter2"}

	var gotUser, gotPass string
	session := &fakeSession{country: "US"}
	dial := func(ctx context.Context, username, password string) (spotify.SessionHandle, error) {
		gotUser, gotPass = username, password
		return session, nil
	}

	m, err := New(cfg, zerolog.Nop(), dial)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if gotUser != "someone" || gotPass != "hunter2" {
		t.Errorf("expected config credentials, got %s/%s", gotUser, gotPass)
	}
	if m.ServerConfig().Spotify == nil {
		t.Fatal("expected spotify service wired after Start, got nil")
	}

	m.Close()
	if !session.closed {
		t.Error("expected session closed, got open")
	}
}

func TestStart_SpotifyDialFailureIsFatal(t *testing.T) {
	cfg := baseConfig()
	cfg.Spotify = config.SpotifyConfig{Enabled: true, Username: "someone", Password: "wrong"}

	dial := func(ctx context.Context, username, password string) (spotify.SessionHandle, error) {
		return nil, errors.New("bad credentials")
	}

	m, err := New(cfg, zerolog.Nop(), dial)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected dial error, got nil")
	}
}

func TestStart_SpotifyWithoutDialerWarnsOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.Spotify = config.SpotifyConfig{Enabled: true, Username: "someone", Password: "hunter2"}

	m, err := New(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if m.ServerConfig().Spotify != nil {
		t.Error("expected spotify nil without a dialer, got a service")
	}
}

func TestTidalTokens_PrefersRefreshGrant(t *testing.T) {
	src := tidalTokens(config.TidalConfig{
		AccessToken:  "tok",
		RefreshToken: "ref",
		ClientID:     "cid",
		ClientSecret: "csec",
	})
	if _, ok := src.(*tidal.RefreshingToken); !ok {
		t.Fatalf("expected refreshing token source, got %T", src)
	}
}

func TestTidalTokens_FallsBackToAccessToken(t *testing.T) {
	src := tidalTokens(config.TidalConfig{AccessToken: "tok", RefreshToken: "ref"})
	if _, ok := src.(tidal.StaticToken); !ok {
		t.Fatalf("expected static token source, got %T", src)
	}

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "tok" {
		t.Errorf("expected tok, got %s", token)
	}
}

func TestTidalTokens_NoCredentials(t *testing.T) {
	if src := tidalTokens(config.TidalConfig{}); src != nil {
		t.Errorf("expected nil source, got %T", src)
	}
}

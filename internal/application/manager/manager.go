// ABOUTME: Provider lifecycle manager wiring config into Spotify, Deezer and Tidal clients
// ABOUTME: Construction is offline; Start performs the logins that need the network

package manager

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noaione/spotilava/internal/application/config"
	"github.com/noaione/spotilava/internal/infrastructure/httpserve"
	"github.com/noaione/spotilava/internal/provider/deezer"
	"github.com/noaione/spotilava/internal/provider/spotify"
	"github.com/noaione/spotilava/internal/provider/tidal"
)

// SessionDialer opens a Spotify session over the binary stream protocol.
// The stock binary ships without one; a build that links a session
// implementation passes its dialer here.
type SessionDialer func(ctx context.Context, username, password string) (spotify.SessionHandle, error)

// Manager owns the provider clients for the lifetime of the process.
type Manager struct {
	cfg  *config.Config
	root zerolog.Logger
	log  zerolog.Logger
	dial SessionDialer

	spotify *spotify.Client
	deezer  *deezer.Client
	tidal   *tidal.Client
}

// New builds the clients that need no network to construct. Deezer and
// Tidal are ready after this; Spotify waits for Start to dial its session.
func New(cfg *config.Config, logger zerolog.Logger, dial SessionDialer) (*Manager, error) {
	m := &Manager{
		cfg:  cfg,
		root: logger,
		log:  logger.With().Str("component", "manager").Logger(),
		dial: dial,
	}

	if cfg.Deezer.Enabled {
		if cfg.Deezer.ARL == "" {
			m.log.Warn().Msg("deezer enabled without an arl cookie, skipping")
		} else {
			client, err := deezer.New(cfg.Deezer.ARL, logger)
			if err != nil {
				return nil, fmt.Errorf("deezer client: %w", err)
			}
			m.deezer = client
		}
	}

	if cfg.Tidal.Enabled {
		tokens := tidalTokens(cfg.Tidal)
		if tokens == nil {
			m.log.Warn().Msg("tidal enabled without credentials, skipping")
		} else {
			m.tidal = tidal.New(tidal.Config{
				Tokens:      tokens,
				CountryCode: cfg.Tidal.CountryCode,
				Quality:     tidal.ParseQuality(cfg.Tidal.Quality),
			}, logger)
		}
	}

	return m, nil
}

// tidalTokens picks the credential strategy: a refresh grant when the
// oauth client pair is configured, a fixed access token otherwise.
func tidalTokens(cfg config.TidalConfig) tidal.TokenSource {
	if cfg.RefreshToken != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		return &tidal.RefreshingToken{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Refresh:      cfg.RefreshToken,
		}
	}
	if cfg.AccessToken != "" {
		return tidal.StaticToken(cfg.AccessToken)
	}
	return nil
}

// Start performs the provider logins. A Spotify dial failure is fatal
// because the account is the point of running the server; Deezer keeps
// going unauthenticated and its routes answer "not connected" instead.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.Spotify.Enabled {
		switch {
		case m.dial == nil:
			m.log.Warn().Msg("no spotify session dialer linked, spotify routes stay unavailable")
		default:
			handle, err := m.dial(ctx, m.cfg.Spotify.Username, m.cfg.Spotify.Password)
			if err != nil {
				return fmt.Errorf("spotify session: %w", err)
			}
			m.spotify = spotify.New(handle, m.root)
			m.log.Info().Str("region", m.spotify.Region()).Msg("spotify session established")
		}
	}

	if m.deezer != nil {
		if err := m.deezer.Authenticate(ctx); err != nil {
			m.log.Warn().Err(err).Msg("deezer authentication failed, deezer routes stay unavailable")
		}
	}

	if m.tidal != nil {
		m.log.Info().Str("quality", m.cfg.Tidal.Quality).Msg("tidal client configured")
	}

	return nil
}

// ServerConfig assembles the HTTP layer's view of the providers. Nil
// clients stay nil interfaces so the handlers can answer "not connected".
func (m *Manager) ServerConfig() httpserve.Config {
	cfg := httpserve.Config{
		ChunkSize: m.cfg.ChunkSize,
		Logger:    m.root,
	}
	if m.spotify != nil {
		cfg.Spotify = m.spotify
	}
	if m.deezer != nil {
		cfg.Deezer = m.deezer
	}
	if m.tidal != nil {
		cfg.Tidal = m.tidal
	}
	return cfg
}

// Close releases the provider sessions. Errors are logged, not returned;
// there is nothing a caller can do about a failed teardown.
func (m *Manager) Close() {
	if m.spotify != nil {
		if err := m.spotify.Close(); err != nil {
			m.log.Warn().Err(err).Msg("spotify session close failed")
		}
	}
	if m.deezer != nil {
		if err := m.deezer.Close(); err != nil {
			m.log.Warn().Err(err).Msg("deezer client close failed")
		}
	}
	if m.tidal != nil {
		if err := m.tidal.Close(); err != nil {
			m.log.Warn().Err(err).Msg("tidal client close failed")
		}
	}
}

// ABOUTME: Contract between the provider and the injected session protocol
// ABOUTME: Stream opens, token minting and reconnects all travel through it

package spotify

import (
	"context"

	"github.com/noaione/spotilava/internal/domain/quality"
	"github.com/noaione/spotilava/internal/infrastructure/stream"
)

// SessionHandle is the authenticated session the provider borrows for every
// call that travels over the session socket: opening audio streams and
// minting Web API tokens. Implementations own the connection state and may
// cache tokens; Reconnect must leave the handle usable again after a broken
// socket.
//
// Stream lookups report unknown IDs as domain.ErrTrackNotFound and catalog
// entries with no playable encoding as domain.ErrUnplayable.
type SessionHandle interface {
	// StreamTrack opens the encoded audio of a track. The picker chooses
	// among the encodings the catalog advertises for the ID.
	StreamTrack(ctx context.Context, id string, pick *quality.Picker) (*SessionStream, error)

	// StreamEpisode is StreamTrack for podcast episodes.
	StreamEpisode(ctx context.Context, id string, pick *quality.Picker) (*SessionStream, error)

	// AccessToken mints a bearer token scoped for catalog reads.
	AccessToken(ctx context.Context) (string, error)

	// Country is the region code of the connected account, empty until the
	// session has learned it.
	Country() string

	// Reconnect tears the connection down and re-establishes it.
	Reconnect(ctx context.Context) error

	// Close shuts the session down for good.
	Close() error
}

// SessionStream is one opened track or episode: the seekable audio handle
// plus the catalog facts the session resolved while opening it. Exactly one
// of Track and Episode is set.
type SessionStream struct {
	Audio   stream.Handle
	Track   *SessionTrack
	Episode *SessionEpisode

	// Format is the encoding the picker settled on.
	Format quality.Format
}

// SessionTrack is the catalog entry behind an opened music track.
type SessionTrack struct {
	ID      string
	Name    string
	Album   string
	Artists []string
	// Duration in milliseconds.
	Duration int
}

// SessionEpisode is the catalog entry behind an opened podcast episode.
type SessionEpisode struct {
	ID   string
	Name string
	Show string
	// Duration in milliseconds.
	Duration int
}

// ABOUTME: Sentinel errors shared across providers and the HTTP layer
// ABOUTME: Splits expected outcomes (not found, unplayable) from true faults
package domain

import "errors"

var (
	// ErrTrackNotFound means the ID resolves to nothing in the provider
	// catalog. Surfaced as 404, never retried.
	ErrTrackNotFound = errors.New("track not found")

	// ErrUnplayable means the catalog entry exists but no compatible
	// encoding is available. Also a 404 from the client's point of view.
	ErrUnplayable = errors.New("no playable encoding available")

	// ErrUndecryptable means a security token or manifest was malformed.
	// Fatal for the request; retrying reproduces the same bad data.
	ErrUndecryptable = errors.New("stream cannot be decrypted")

	// ErrBadManifest means a delivery manifest could not be parsed.
	// Fatal for the request, same as ErrUndecryptable.
	ErrBadManifest = errors.New("manifest is malformed")

	// ErrSeekUnsupported is returned by forward-only sources.
	ErrSeekUnsupported = errors.New("source does not support seeking")

	// ErrProviderNotReady means the provider session is not connected yet.
	ErrProviderNotReady = errors.New("provider not connected")
)

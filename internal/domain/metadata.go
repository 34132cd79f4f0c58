// ABOUTME: Track metadata model attached to every open stream
// ABOUTME: Immutable once resolved, consumed by the tag injector
package domain

// TrackMetadata carries the fields the injector writes into the container.
// It is resolved by the provider before the stream opens and never
// re-fetched mid-stream.
type TrackMetadata struct {
	ID      string
	Title   string
	Album   string
	Artists []string
	Image   string
	// Duration in milliseconds as reported by the provider catalog.
	Duration int
}

// MainArtist returns the first artist, or an empty string.
func (m TrackMetadata) MainArtist() string {
	if len(m.Artists) == 0 {
		return ""
	}
	return m.Artists[0]
}

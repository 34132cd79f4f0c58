// ABOUTME: Segmented media description shared by the MPD, BTS, and HLS parsers
// ABOUTME: One init segment plus ordered media segments with advisory sizes
package manifest

// Segment is one independently fetched piece of a segmented payload.
type Segment struct {
	Number int
	URL    string

	// Size is the manifest-declared byte estimate. Manifests rarely carry
	// real byte counts, so this is advisory until the fetch observes the
	// true size. Zero or negative means no estimate at all.
	Size int64
}

// Media describes a segmented payload: an optional initialization segment
// followed by media segments in fetch order.
type Media struct {
	MimeType string
	Codecs   string

	// InitURL is fetched first and counts as segment zero. Empty when the
	// manifest carries no separate initialization segment.
	InitURL  string
	Segments []Segment
}

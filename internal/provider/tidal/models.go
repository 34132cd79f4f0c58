// ABOUTME: Tidal API document models and quality ladder
// ABOUTME: Parses track, album and playlist resources into wire shapes

package tidal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noaione/spotilava/internal/domain"
)

const imageFmt = "https://resources.tidal.com/images/%s/1280x1280.jpg"

// Quality is a playback quality tier as the API names it.
type Quality string

const (
	QualityLow      Quality = "LOW"
	QualityNormal   Quality = "NORMAL"
	QualityLossless Quality = "LOSSLESS"
	QualityMaster   Quality = "HI_RES"
)

// Rank orders qualities worst to best; unknown labels rank below all.
func (q Quality) Rank() int {
	switch q {
	case QualityLow:
		return 0
	case QualityNormal:
		return 1
	case QualityLossless:
		return 2
	case QualityMaster:
		return 3
	default:
		return -1
	}
}

// ParseQuality maps a config label onto the ladder. Unknown labels come
// back as an invalid Quality with a negative rank.
func ParseQuality(label string) Quality {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "LOW":
		return QualityLow
	case "NORMAL", "HIGH":
		return QualityNormal
	case "LOSSLESS":
		return QualityLossless
	case "HI_RES", "HIRES", "MASTER":
		return QualityMaster
	}
	return Quality("")
}

// imageURL turns a resource hash into the CDN address. Hashes arrive
// dash-separated and map onto path segments.
func imageURL(hash string) string {
	if hash == "" {
		return ""
	}
	return fmt.Sprintf(imageFmt, strings.ReplaceAll(hash, "-", "/"))
}

// codecExts names download files for codecs that all live in an MP4
// container; everything else defaults to .m4a.
var codecExts = map[string]string{
	"eac3": ".eac3",
	"ac3":  ".ac3",
	"alac": ".alac",
	"ac4":  ".ac4",
	"mha1": ".mp4",
}

// streamExt picks the filename extension for a manifest's payload.
func streamExt(mimeType, codecs string) string {
	if strings.Contains(mimeType, "flac") {
		return ".flac"
	}
	if ext, ok := codecExts[codecs]; ok {
		return ext
	}
	return ".m4a"
}

// Track is the wire shape of one track in metadata responses.
type Track struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Album   string   `json:"album"`
	Image   string   `json:"image"`
	Artists []string `json:"artists"`
	// Duration in whole seconds as the catalog reports it.
	Duration int `json:"duration"`

	quality Quality
}

type apiArtist struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	Picture string      `json:"picture"`
}

type apiAlbumRef struct {
	ID    json.Number `json:"id"`
	Title string      `json:"title"`
	Cover string      `json:"cover"`
}

type apiTrack struct {
	ID           json.Number  `json:"id"`
	Title        string       `json:"title"`
	Duration     int          `json:"duration"`
	AudioQuality string       `json:"audioQuality"`
	Artist       *apiArtist   `json:"artist"`
	Artists      []apiArtist  `json:"artists"`
	Album        *apiAlbumRef `json:"album"`
}

func trackFromAPI(t apiTrack) Track {
	var album, image string
	if t.Album != nil {
		album = t.Album.Title
		image = imageURL(t.Album.Cover)
	}

	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	if len(artists) == 0 && t.Artist != nil {
		artists = append(artists, t.Artist.Name)
	}

	return Track{
		ID:       t.ID.String(),
		Title:    t.Title,
		Album:    album,
		Image:    image,
		Artists:  artists,
		Duration: t.Duration,
		quality:  Quality(t.AudioQuality),
	}
}

// Metadata flattens the track into the shape the tag injector consumes.
func (t *Track) Metadata() domain.TrackMetadata {
	return domain.TrackMetadata{
		ID:       t.ID,
		Title:    t.Title,
		Album:    t.Album,
		Artists:  t.Artists,
		Image:    t.Image,
		Duration: t.Duration * 1000,
	}
}

// Artist is the wire shape of one artist.
type Artist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

func artistFromAPI(a apiArtist) Artist {
	return Artist{
		ID:    a.ID.String(),
		Name:  a.Name,
		Image: imageURL(a.Picture),
	}
}

// Album is the wire shape of one album with its full track listing.
type Album struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Image   string   `json:"image"`
	Artists []Artist `json:"artists"`
	Tracks  []Track  `json:"tracks"`
}

type apiAlbum struct {
	ID      json.Number `json:"id"`
	Title   string      `json:"title"`
	Cover   string      `json:"cover"`
	Artist  *apiArtist  `json:"artist"`
	Artists []apiArtist `json:"artists"`
}

func albumFromAPI(a apiAlbum) Album {
	artists := make([]Artist, 0, len(a.Artists))
	for _, ar := range a.Artists {
		artists = append(artists, artistFromAPI(ar))
	}
	if len(artists) == 0 && a.Artist != nil {
		artists = append(artists, artistFromAPI(*a.Artist))
	}
	return Album{
		ID:      a.ID.String(),
		Name:    a.Title,
		Image:   imageURL(a.Cover),
		Artists: artists,
		Tracks:  []Track{},
	}
}

// Playlist is the wire shape of one playlist with its full track listing.
type Playlist struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Image   string  `json:"image"`
	Creator string  `json:"creator"`
	Tracks  []Track `json:"tracks"`
}

type apiPlaylist struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Image       string `json:"image"`
	SquareImage string `json:"squareImage"`
	Cover       string `json:"cover"`
	Creator     struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"creator"`
}

func playlistFromAPI(p apiPlaylist) Playlist {
	image := p.Image
	if image == "" {
		image = p.SquareImage
	}
	if image == "" {
		image = p.Cover
	}
	creator := p.Creator.Name
	// Editorial playlists carry creator id 0 and no name.
	if creator == "" && p.Creator.ID.String() == "0" {
		creator = "TIDAL"
	}
	return Playlist{
		ID:      p.UUID,
		Name:    p.Title,
		Image:   imageURL(image),
		Creator: creator,
		Tracks:  []Track{},
	}
}

// tracksFromItems unwraps a paged /items listing. Entries arrive either
// wrapped as {"item": {...}} or as bare track documents.
func tracksFromItems(items []json.RawMessage) []Track {
	tracks := make([]Track, 0, len(items))
	for _, raw := range items {
		var wrapped struct {
			Item *apiTrack `json:"item"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Item != nil && wrapped.Item.ID.String() != "" {
			tracks = append(tracks, trackFromAPI(*wrapped.Item))
			continue
		}
		var bare apiTrack
		if err := json.Unmarshal(raw, &bare); err != nil || bare.ID.String() == "" {
			continue
		}
		tracks = append(tracks, trackFromAPI(bare))
	}
	return tracks
}

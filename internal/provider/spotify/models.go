// ABOUTME: JSON models served by the Spotify metadata endpoints
// ABOUTME: Flattens Web API documents into the wire shapes clients consume

package spotify

import "encoding/json"

// Track is the wire shape of one track in metadata responses.
type Track struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Album   string   `json:"album"`
	Image   string   `json:"image"`
	Artists []string `json:"artists"`
	// Duration in whole seconds, rounded up.
	Duration int `json:"duration"`
}

// Artist is the wire shape of one artist.
type Artist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// ArtistTracks is an artist together with their current top tracks.
type ArtistTracks struct {
	Artist
	Tracks []Track `json:"tracks"`
}

// Album is the wire shape of one album with its full track listing.
type Album struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Image   string   `json:"image"`
	Artists []Artist `json:"artists"`
	Tracks  []Track  `json:"tracks"`
}

// Playlist is the wire shape of one playlist with its full track listing.
type Playlist struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Image  string  `json:"image"`
	Tracks []Track `json:"tracks"`
}

// Episode is the wire shape of one podcast episode.
type Episode struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Show        string `json:"show"`
	Image       string `json:"image"`
	Publisher   string `json:"publisher"`
	// Duration in whole seconds, rounded up.
	Duration int `json:"duration"`
}

// Show is the wire shape of one podcast show with its episode listing.
type Show struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Image    string    `json:"image"`
	Episodes []Episode `json:"episodes"`
}

// Unmarshal targets for the Web API documents. Only the fields the wire
// shapes need are declared; everything else the API sends is dropped.

type apiImage struct {
	URL string `json:"url"`
}

type apiArtist struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Images []apiImage `json:"images"`
}

type apiAlbumRef struct {
	Name   string     `json:"name"`
	Images []apiImage `json:"images"`
}

type apiTrack struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	DurationMS int         `json:"duration_ms"`
	Album      apiAlbumRef `json:"album"`
	Artists    []apiArtist `json:"artists"`
}

// apiPage is one page of a paginated listing. Next is empty on the last
// page; the API sends null, which decodes to the zero value.
type apiPage struct {
	Items []json.RawMessage `json:"items"`
	Next  string            `json:"next"`
}

type apiAlbum struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Images  []apiImage  `json:"images"`
	Artists []apiArtist `json:"artists"`
	Tracks  apiPage     `json:"tracks"`
}

type apiPlaylist struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Images []apiImage `json:"images"`
	Tracks apiPage    `json:"tracks"`
}

type apiPlaylistEntry struct {
	Track *apiTrack `json:"track"`
}

type apiShowRef struct {
	Name      string `json:"name"`
	Publisher string `json:"publisher"`
}

type apiEpisode struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	DurationMS  int        `json:"duration_ms"`
	Images      []apiImage `json:"images"`
	Show        apiShowRef `json:"show"`
}

type apiShow struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Publisher string     `json:"publisher"`
	Images    []apiImage `json:"images"`
	Episodes  apiPage    `json:"episodes"`
}

type apiArtistDoc struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Images []apiImage `json:"images"`
}

func firstImage(images []apiImage) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

// durationSeconds rounds a millisecond duration up to whole seconds.
func durationSeconds(ms int) int {
	return (ms + 999) / 1000
}

func trackFromAPI(t apiTrack) Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	return Track{
		ID:       t.ID,
		Title:    t.Name,
		Album:    t.Album.Name,
		Image:    firstImage(t.Album.Images),
		Artists:  artists,
		Duration: durationSeconds(t.DurationMS),
	}
}

func artistFromAPI(a apiArtist) Artist {
	return Artist{ID: a.ID, Name: a.Name, Image: firstImage(a.Images)}
}

// tracksFromAlbumItems parses album page items, which carry bare track
// objects. Items that fail to parse are dropped.
func tracksFromAlbumItems(items []json.RawMessage) []Track {
	tracks := make([]Track, 0, len(items))
	for _, item := range items {
		var t apiTrack
		if err := json.Unmarshal(item, &t); err != nil || t.ID == "" {
			continue
		}
		tracks = append(tracks, trackFromAPI(t))
	}
	return tracks
}

// tracksFromPlaylistItems parses playlist page items, which wrap each track
// in an envelope. Entries whose track vanished from the catalog and podcast
// episodes mixed into the playlist are dropped.
func tracksFromPlaylistItems(items []json.RawMessage) []Track {
	tracks := make([]Track, 0, len(items))
	for _, item := range items {
		var entry apiPlaylistEntry
		if err := json.Unmarshal(item, &entry); err != nil || entry.Track == nil {
			continue
		}
		if entry.Track.ID == "" || (entry.Track.Type != "" && entry.Track.Type != "track") {
			continue
		}
		tracks = append(tracks, trackFromAPI(*entry.Track))
	}
	return tracks
}

func albumFromAPI(a apiAlbum) Album {
	artists := make([]Artist, 0, len(a.Artists))
	for _, ar := range a.Artists {
		artists = append(artists, artistFromAPI(ar))
	}
	return Album{
		ID:      a.ID,
		Name:    a.Name,
		Image:   firstImage(a.Images),
		Artists: artists,
		Tracks:  tracksFromAlbumItems(a.Tracks.Items),
	}
}

func playlistFromAPI(p apiPlaylist) Playlist {
	return Playlist{
		ID:     p.ID,
		Name:   p.Name,
		Image:  firstImage(p.Images),
		Tracks: tracksFromPlaylistItems(p.Tracks.Items),
	}
}

// episodeFromAPI builds an episode, preferring the show reference embedded
// in the document and falling back to the parent show for listing items
// that omit it.
func episodeFromAPI(e apiEpisode, parent apiShowRef) Episode {
	show := e.Show.Name
	if show == "" {
		show = parent.Name
	}
	publisher := e.Show.Publisher
	if publisher == "" {
		publisher = parent.Publisher
	}
	return Episode{
		ID:          e.ID,
		Title:       e.Name,
		Description: e.Description,
		Show:        show,
		Image:       firstImage(e.Images),
		Publisher:   publisher,
		Duration:    durationSeconds(e.DurationMS),
	}
}

func episodesFromItems(items []json.RawMessage, parent apiShowRef) []Episode {
	episodes := make([]Episode, 0, len(items))
	for _, item := range items {
		var e apiEpisode
		if err := json.Unmarshal(item, &e); err != nil || e.ID == "" {
			continue
		}
		episodes = append(episodes, episodeFromAPI(e, parent))
	}
	return episodes
}

func showFromAPI(s apiShow) Show {
	parent := apiShowRef{Name: s.Name, Publisher: s.Publisher}
	return Show{
		ID:       s.ID,
		Name:     s.Name,
		Image:    firstImage(s.Images),
		Episodes: episodesFromItems(s.Episodes.Items, parent),
	}
}

// ABOUTME: Deezer gw API document models and wire shapes
// ABOUTME: Parses the uppercase gw payloads and builds CDN image and legacy stream URLs

package deezer

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/noaione/spotilava/internal/domain"
)

const albumArtFmt = "https://e-cdns-images.dzcdn.net/images/%s/%s/1024x1024-000000-80-0-0.jpg"

// legacyURLKey encrypts the path of the old-style direct CDN address. It is
// a fixed, publicly known constant of the legacy scheme.
const legacyURLKey = "jo6aey6haid2Teih"

// AudioFormat is one Deezer delivery format, ordered worst to best.
type AudioFormat int

const (
	FormatMP3128 AudioFormat = iota
	FormatMP3256
	FormatMP3320
	FormatFLAC
)

func (f AudioFormat) String() string {
	switch f {
	case FormatFLAC:
		return "FLAC"
	case FormatMP3320:
		return "MP3_320"
	case FormatMP3256:
		return "MP3_256"
	default:
		return "MP3_128"
	}
}

// Mime is the container hint handed to the byte sniffer.
func (f AudioFormat) Mime() string {
	if f == FormatFLAC {
		return "audio/flac"
	}
	return "audio/mpeg"
}

// gwScalar tolerates the gw API's habit of sending numbers as strings and
// strings as numbers depending on the endpoint.
type gwScalar string

func (s *gwScalar) UnmarshalJSON(data []byte) error {
	str := string(bytes.Trim(data, `"`))
	if str == "null" {
		str = ""
	}
	*s = gwScalar(str)
	return nil
}

func (s gwScalar) String() string { return string(s) }

func (s gwScalar) Int() int {
	n, _ := strconv.Atoi(string(s))
	return n
}

// imageURL builds the CDN address for an artwork hash. kind is the CDN
// bucket: cover, user or playlist.
func imageURL(kind, hash string) string {
	if hash == "" {
		return ""
	}
	return fmt.Sprintf(albumArtFmt, kind, hash)
}

// User is the account behind the ARL cookie, resolved at authentication.
type User struct {
	ID           string
	Country      string
	LicenseToken string
	Lossless     bool
	HighQuality  bool
}

type gwUserData struct {
	User struct {
		ID      gwScalar `json:"USER_ID"`
		Options struct {
			LicenseToken   string `json:"license_token"`
			WebHQ          bool   `json:"web_hq"`
			MobileHQ       bool   `json:"mobile_hq"`
			WebLossless    bool   `json:"web_lossless"`
			MobileLossless bool   `json:"mobile_lossless"`
			LicenseCountry string `json:"license_country"`
		} `json:"OPTIONS"`
	} `json:"USER"`
	CheckForm string `json:"checkForm"`
}

func userFromGW(data gwUserData) User {
	opts := data.User.Options
	return User{
		ID:           data.User.ID.String(),
		Country:      opts.LicenseCountry,
		LicenseToken: opts.LicenseToken,
		Lossless:     opts.WebLossless || opts.MobileLossless,
		HighQuality:  opts.WebHQ || opts.MobileHQ,
	}
}

// Track is the wire shape of one track in metadata responses. The delivery
// fields below it stay private to the provider.
type Track struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Album   string   `json:"album"`
	Image   string   `json:"image"`
	Artists []string `json:"artists"`
	// Duration in whole seconds as the catalog reports it.
	Duration int `json:"duration"`

	md5Origin    string
	trackToken   string
	mediaVersion string
	formats      []AudioFormat
}

type gwArtist struct {
	ID      gwScalar `json:"ART_ID"`
	Name    string   `json:"ART_NAME"`
	Picture string   `json:"ART_PICTURE"`
}

type gwTrack struct {
	ID           gwScalar   `json:"SNG_ID"`
	Title        string     `json:"SNG_TITLE"`
	ArtistName   string     `json:"ART_NAME"`
	Artists      []gwArtist `json:"ARTISTS"`
	AlbumTitle   string     `json:"ALB_TITLE"`
	AlbumPicture string     `json:"ALB_PICTURE"`
	Duration     gwScalar   `json:"DURATION"`
	MD5Origin    string     `json:"MD5_ORIGIN"`
	TrackToken   string     `json:"TRACK_TOKEN"`
	MediaVersion gwScalar   `json:"MEDIA_VERSION"`
	SizeMP3128   gwScalar   `json:"FILESIZE_MP3_128"`
	SizeMP3256   gwScalar   `json:"FILESIZE_MP3_256"`
	SizeMP3320   gwScalar   `json:"FILESIZE_MP3_320"`
	SizeFLAC     gwScalar   `json:"FILESIZE_FLAC"`
}

func trackFromGW(t gwTrack) Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	if len(artists) == 0 && t.ArtistName != "" {
		artists = append(artists, t.ArtistName)
	}

	var formats []AudioFormat
	if t.SizeMP3128.Int() > 0 {
		formats = append(formats, FormatMP3128)
	}
	if t.SizeMP3256.Int() > 0 {
		formats = append(formats, FormatMP3256)
	}
	if t.SizeMP3320.Int() > 0 {
		formats = append(formats, FormatMP3320)
	}
	if t.SizeFLAC.Int() > 0 {
		formats = append(formats, FormatFLAC)
	}

	return Track{
		ID:           t.ID.String(),
		Title:        t.Title,
		Album:        t.AlbumTitle,
		Image:        imageURL("cover", t.AlbumPicture),
		Artists:      artists,
		Duration:     t.Duration.Int(),
		md5Origin:    t.MD5Origin,
		trackToken:   t.TrackToken,
		mediaVersion: t.MediaVersion.String(),
		formats:      formats,
	}
}

// BestFormat picks the highest-quality format the catalog advertises.
func (t *Track) BestFormat() (AudioFormat, bool) {
	if len(t.formats) == 0 {
		return FormatMP3128, false
	}
	best := t.formats[0]
	for _, f := range t.formats[1:] {
		if f > best {
			best = f
		}
	}
	return best, true
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

// legacyURL builds the old-style direct CDN address from the track's MD5
// origin. Format number 1 is the universal MP3_128 rendition every track
// still serves. Empty when the catalog did not hand out an origin hash.
func (t *Track) legacyURL() string {
	if t.md5Origin == "" {
		return ""
	}
	joined := bytes.Join([][]byte{
		[]byte(t.md5Origin),
		[]byte("1"),
		[]byte(t.ID),
		[]byte(t.mediaVersion),
	}, []byte{0xA4})

	sum := md5.Sum(joined)
	info := make([]byte, 0, len(joined)+50)
	info = append(info, hex.EncodeToString(sum[:])...)
	info = append(info, 0xA4)
	info = append(info, joined...)
	info = append(info, 0xA4)
	info = append(info, bytes.Repeat([]byte{'.'}, 16-len(info)%16)...)

	block, err := aes.NewCipher([]byte(legacyURLKey))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("https://e-cdns-proxy-%c.dzcdn.net/mobile/1/%s",
		t.md5Origin[0], hex.EncodeToString(ecbEncrypt(block, info)))
}

// ecbEncrypt runs the block cipher over data in ECB mode. The legacy URL
// scheme predates anything better; data is already padded to block size.
func ecbEncrypt(block cipher.Block, data []byte) []byte {
	out := make([]byte, len(data))
	size := block.BlockSize()
	for i := 0; i+size <= len(data); i += size {
		block.Encrypt(out[i:i+size], data[i:i+size])
	}
	return out
}

// Artist is the wire shape of one artist. The artist name serializes under
// a "title" key and downstream clients depend on that name.
type Artist struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Image string `json:"image"`
}

func artistFromGW(a gwArtist) Artist {
	return Artist{
		ID:    a.ID.String(),
		Title: a.Name,
		Image: imageURL("user", a.Picture),
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

type gwAlbum struct {
	ID      gwScalar   `json:"ALB_ID"`
	Title   string     `json:"ALB_TITLE"`
	Picture string     `json:"ALB_PICTURE"`
	Artists []gwArtist `json:"ARTISTS"`
	// Album docs double as their own artist when ARTISTS is absent.
	ArtistID      gwScalar `json:"ART_ID"`
	ArtistName    string   `json:"ART_NAME"`
	ArtistPicture string   `json:"ART_PICTURE"`
}

func albumFromGW(a gwAlbum) Album {
	artists := make([]Artist, 0, len(a.Artists))
	for _, ar := range a.Artists {
		artists = append(artists, artistFromGW(ar))
	}
	if len(artists) == 0 {
		artists = append(artists, artistFromGW(gwArtist{
			ID: a.ArtistID, Name: a.ArtistName, Picture: a.ArtistPicture,
		}))
	}
	return Album{
		ID:      a.ID.String(),
		Name:    a.Title,
		Image:   imageURL("cover", a.Picture),
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

type gwPlaylistPage struct {
	Data struct {
		ID      gwScalar `json:"PLAYLIST_ID"`
		Title   string   `json:"TITLE"`
		Creator string   `json:"PARENT_USERNAME"`
		Picture string   `json:"PLAYLIST_PICTURE"`
	} `json:"DATA"`
	Songs struct {
		Data []gwTrack `json:"data"`
	} `json:"SONGS"`
}

func playlistFromGW(p gwPlaylistPage) Playlist {
	tracks := make([]Track, 0, len(p.Songs.Data))
	for _, t := range p.Songs.Data {
		tracks = append(tracks, trackFromGW(t))
	}
	return Playlist{
		ID:      p.Data.ID.String(),
		Name:    p.Data.Title,
		Image:   imageURL("playlist", p.Data.Picture),
		Creator: p.Data.Creator,
		Tracks:  tracks,
	}
}

// gwTrackList is the {data: [...]} body shared by listing methods.
type gwTrackList struct {
	Data []gwTrack `json:"data"`
}

func tracksFromGWList(raw json.RawMessage) ([]Track, error) {
	var list gwTrackList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode track list: %w", err)
	}
	tracks := make([]Track, 0, len(list.Data))
	for _, t := range list.Data {
		tracks = append(tracks, trackFromGW(t))
	}
	return tracks, nil
}

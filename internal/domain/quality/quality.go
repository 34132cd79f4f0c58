// ABOUTME: Audio encoding catalog model and quality/format fallback picker
// ABOUTME: Selects the best playable encoding with deterministic fallback order
package quality

import "strings"

// Level is the coarse quality tier of an encoding.
type Level int

const (
	Normal Level = iota
	High
	VeryHigh
)

func (l Level) String() string {
	switch l {
	case VeryHigh:
		return "VERY_HIGH"
	case High:
		return "HIGH"
	default:
		return "NORMAL"
	}
}

// Family is the container family of an encoding.
type Family int

const (
	Vorbis Family = iota
	MP3
)

// Format identifies one concrete encoding the catalog can carry.
type Format int

const (
	OggVorbis96 Format = iota
	OggVorbis160
	OggVorbis320
	MP3_96
	MP3_160
	MP3_256
	MP3_320
)

func (f Format) Family() Family {
	switch f {
	case MP3_96, MP3_160, MP3_256, MP3_320:
		return MP3
	default:
		return Vorbis
	}
}

func (f Format) Level() Level {
	switch f {
	case OggVorbis320, MP3_320, MP3_256:
		return VeryHigh
	case OggVorbis160, MP3_160:
		return High
	default:
		return Normal
	}
}

func (f Format) String() string {
	switch f {
	case OggVorbis96:
		return "OGG_VORBIS_96"
	case OggVorbis160:
		return "OGG_VORBIS_160"
	case OggVorbis320:
		return "OGG_VORBIS_320"
	case MP3_96:
		return "MP3_96"
	case MP3_160:
		return "MP3_160"
	case MP3_256:
		return "MP3_256"
	default:
		return "MP3_320"
	}
}

// Encoding is one playable file in a track's catalog entry.
type Encoding struct {
	Format Format
	FileID string
}

// Picker chooses one encoding from a catalog, preferring one quality level
// and one container family but falling back across both deterministically.
type Picker struct {
	preferred Level
	fallback  []Level
	families  [2]Family
}

// NewPicker builds a picker for the given preferred quality. The fallback
// order is the remaining levels from highest to lowest; Vorbis is tried
// before MP3 unless PreferFamily changes that.
func NewPicker(preferred Level) *Picker {
	all := []Level{VeryHigh, High, Normal}
	fallback := make([]Level, 0, len(all)-1)
	for _, l := range all {
		if l != preferred {
			fallback = append(fallback, l)
		}
	}
	return &Picker{
		preferred: preferred,
		fallback:  fallback,
		families:  [2]Family{Vorbis, MP3},
	}
}

// PreferFamily moves the given container family to the front of every
// quality bucket. Returns the picker for chaining.
func (p *Picker) PreferFamily(fam Family) *Picker {
	if fam == MP3 {
		p.families = [2]Family{MP3, Vorbis}
	} else {
		p.families = [2]Family{Vorbis, MP3}
	}
	return p
}

// Pick returns the first encoding matching the priority list: preferred
// quality in the preferred family then the secondary one, then each
// fallback level in the same family order. Ties inside a bucket are broken
// by catalog order. A nil result means the track is unplayable, not that
// something failed.
func (p *Picker) Pick(catalog []Encoding) *Encoding {
	primary := filterFamily(catalog, p.families[0])
	secondary := filterFamily(catalog, p.families[1])

	levels := append([]Level{p.preferred}, p.fallback...)
	for _, lvl := range levels {
		if enc := firstAtLevel(primary, lvl); enc != nil {
			return enc
		}
		if enc := firstAtLevel(secondary, lvl); enc != nil {
			return enc
		}
	}
	return nil
}

func filterFamily(catalog []Encoding, fam Family) []Encoding {
	var out []Encoding
	for _, enc := range catalog {
		if enc.Format.Family() == fam {
			out = append(out, enc)
		}
	}
	return out
}

func firstAtLevel(catalog []Encoding, lvl Level) *Encoding {
	for i := range catalog {
		if catalog[i].Format.Level() == lvl {
			return &catalog[i]
		}
	}
	return nil
}

// ParseRequestLevel maps a listen-endpoint quality parameter to a Level.
// The mapping is shifted one tier up from config values: clients asking
// for "normal" get HIGH, "high" and above get VERY_HIGH. Unknown or empty
// values report no preference.
func ParseRequestLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "lowest", "low", "lq":
		return Normal, true
	case "medium", "normal":
		return High, true
	case "high", "hq", "highest":
		return VeryHigh, true
	default:
		return VeryHigh, false
	}
}

// ParseFamily maps a listen-endpoint format parameter to a container
// family. Unknown or empty values report no preference.
func ParseFamily(s string) (Family, bool) {
	switch strings.ToLower(s) {
	case "mp3":
		return MP3, true
	case "vorbis", "ogg", "opus":
		return Vorbis, true
	default:
		return Vorbis, false
	}
}

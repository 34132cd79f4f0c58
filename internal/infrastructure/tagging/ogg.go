// ABOUTME: Vorbis comment injection for Ogg streams
// ABOUTME: Rebuilds the header pages in place, preserving page count and sequence numbers

package tagging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/noaione/spotilava/internal/domain"
)

const oggHeaderSize = 27

// maxLacingValues is the segment table limit of a single Ogg page.
const maxLacingValues = 255

var (
	oggMagic           = []byte("OggS")
	vorbisIdentMagic   = []byte("\x01vorbis")
	vorbisCommentMagic = []byte("\x03vorbis")
	vorbisSetupMagic   = []byte("\x05vorbis")
)

type oggPage struct {
	headerType byte
	granule    [8]byte
	serial     uint32
	sequence   uint32
	lacing     []byte
	body       []byte

	start, end int // span in the source buffer
}

func parseOggPage(data []byte, off int) (*oggPage, error) {
	if off+oggHeaderSize > len(data) {
		return nil, errors.New("short page header")
	}
	hdr := data[off:]
	if !bytes.Equal(hdr[:4], oggMagic) {
		return nil, errors.New("bad capture pattern")
	}
	if hdr[4] != 0 {
		return nil, fmt.Errorf("unsupported stream structure version %d", hdr[4])
	}
	nsegs := int(hdr[26])
	if off+oggHeaderSize+nsegs > len(data) {
		return nil, errors.New("short segment table")
	}
	lacing := hdr[oggHeaderSize : oggHeaderSize+nsegs]
	bodyLen := 0
	for _, lace := range lacing {
		bodyLen += int(lace)
	}
	end := off + oggHeaderSize + nsegs + bodyLen
	if end > len(data) {
		return nil, errors.New("short page body")
	}
	page := &oggPage{
		headerType: hdr[5],
		serial:     binary.LittleEndian.Uint32(hdr[14:18]),
		sequence:   binary.LittleEndian.Uint32(hdr[18:22]),
		lacing:     lacing,
		body:       hdr[oggHeaderSize+nsegs : oggHeaderSize+nsegs+bodyLen],
		start:      off,
		end:        end,
	}
	copy(page.granule[:], hdr[6:14])
	return page, nil
}

func (p *oggPage) encode() []byte {
	out := make([]byte, oggHeaderSize+len(p.lacing)+len(p.body))
	copy(out[:4], oggMagic)
	out[5] = p.headerType
	copy(out[6:14], p.granule[:])
	binary.LittleEndian.PutUint32(out[14:18], p.serial)
	binary.LittleEndian.PutUint32(out[18:22], p.sequence)
	out[26] = byte(len(p.lacing))
	copy(out[oggHeaderSize:], p.lacing)
	copy(out[oggHeaderSize+len(p.lacing):], p.body)
	binary.LittleEndian.PutUint32(out[22:26], oggCRC(out))
	return out
}

// injectOgg rewrites the vorbis comment header of an Ogg stream head. The
// rebuilt header keeps the exact page count and sequence numbers of the
// original, so pages beyond the head chunk stay valid without rewriting.
func injectOgg(head []byte, meta domain.TrackMetadata) ([]byte, error) {
	var pages []*oggPage
	off := 0
	for off < len(head) {
		page, err := parseOggPage(head, off)
		if err != nil {
			break
		}
		pages = append(pages, page)
		off = page.end
	}
	if len(pages) < 2 {
		return nil, errors.New("header pages not buffered yet")
	}
	if !bytes.HasPrefix(pages[0].body, vorbisIdentMagic) {
		return nil, errors.New("not a vorbis stream")
	}

	packets, lastPage, err := collectHeaderPackets(pages)
	if err != nil {
		return nil, err
	}
	comment, setup := packets[0], packets[1]
	if !bytes.HasPrefix(comment, vorbisCommentMagic) {
		return nil, errors.New("second packet is not a comment header")
	}
	if !bytes.HasPrefix(setup, vorbisSetupMagic) {
		return nil, errors.New("third packet is not a setup header")
	}

	vendor, existing, err := parseVorbisComments(comment)
	if err != nil {
		return nil, err
	}
	newComment := buildCommentPacket(vendor, mergeTags(existing, meta))

	rebuilt, err := rebuildHeaderPages(pages[1:lastPage+1], newComment, setup)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(head[:pages[1].start])
	for _, page := range rebuilt {
		out.Write(page.encode())
	}
	out.Write(head[pages[lastPage].end:])
	return out.Bytes(), nil
}

// collectHeaderPackets walks the lacing tables of the pages after the
// identification page until the comment and setup packets complete.
func collectHeaderPackets(pages []*oggPage) ([][]byte, int, error) {
	var packets [][]byte
	var current []byte
	for i := 1; i < len(pages); i++ {
		page := pages[i]
		bodyOff := 0
		for _, lace := range page.lacing {
			current = append(current, page.body[bodyOff:bodyOff+int(lace)]...)
			bodyOff += int(lace)
			if lace < 255 {
				packets = append(packets, current)
				current = nil
				if len(packets) == 2 {
					if bodyOff != len(page.body) {
						return nil, 0, errors.New("data after setup header on the same page")
					}
					return packets, i, nil
				}
			}
		}
	}
	return nil, 0, errors.New("header packets incomplete in buffered head")
}

func parseVorbisComments(packet []byte) (string, [][2]string, error) {
	body := packet[len(vorbisCommentMagic):]
	readBlob := func() ([]byte, error) {
		if len(body) < 4 {
			return nil, errors.New("truncated comment header")
		}
		n := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < n {
			return nil, errors.New("truncated comment header")
		}
		blob := body[:n]
		body = body[n:]
		return blob, nil
	}

	vendorRaw, err := readBlob()
	if err != nil {
		return "", nil, err
	}
	if len(body) < 4 {
		return "", nil, errors.New("truncated comment header")
	}
	count := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]

	var tags [][2]string
	for i := uint32(0); i < count; i++ {
		entry, err := readBlob()
		if err != nil {
			return "", nil, err
		}
		key, value, found := strings.Cut(string(entry), "=")
		if !found {
			continue
		}
		tags = append(tags, [2]string{key, value})
	}
	return string(vendorRaw), tags, nil
}

func buildCommentPacket(vendor string, tags [][2]string) []byte {
	var b bytes.Buffer
	b.Write(vorbisCommentMagic)
	writeLE32(&b, uint32(len(vendor)))
	b.WriteString(vendor)
	writeLE32(&b, uint32(len(tags)))
	for _, kv := range tags {
		entry := kv[0] + "=" + kv[1]
		writeLE32(&b, uint32(len(entry)))
		b.WriteString(entry)
	}
	b.WriteByte(0x01) // framing bit
	return b.Bytes()
}

// rebuildHeaderPages packs the new comment and the untouched setup packet
// into as many pages as the originals occupied. Extra pages become empty
// continuations, which decoders skip.
func rebuildHeaderPages(originals []*oggPage, comment, setup []byte) ([]*oggPage, error) {
	lacing := append(laceOut(comment), laceOut(setup)...)
	if len(lacing) > maxLacingValues {
		return nil, errors.New("rebuilt header does not fit a single page")
	}
	first := originals[0]
	pages := []*oggPage{{
		headerType: first.headerType,
		granule:    first.granule,
		serial:     first.serial,
		sequence:   first.sequence,
		lacing:     lacing,
		body:       append(append([]byte(nil), comment...), setup...),
	}}
	for _, orig := range originals[1:] {
		pages = append(pages, &oggPage{
			headerType: orig.headerType,
			granule:    orig.granule,
			serial:     orig.serial,
			sequence:   orig.sequence,
		})
	}
	return pages, nil
}

func laceOut(packet []byte) []byte {
	var lacing []byte
	n := len(packet)
	for n >= 255 {
		lacing = append(lacing, 255)
		n -= 255
	}
	return append(lacing, byte(n))
}

var oggCRCTable = makeOggCRCTable()

// makeOggCRCTable builds the CRC32 table for the Ogg page checksum:
// polynomial 0x04c11db7, no bit reflection, zero initial value.
func makeOggCRCTable() *[256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return &table
}

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// ABOUTME: iTunes-style metadata injection for MP4 payloads
// ABOUTME: Rebuilds moov with a fresh udta/ilst subtree and re-bases chunk offsets

package tagging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/abema/go-mp4"

	"github.com/noaione/spotilava/internal/domain"
)

var (
	boxTypeNam = mp4.BoxType{0xA9, 'n', 'a', 'm'}
	boxTypeAlb = mp4.BoxType{0xA9, 'a', 'l', 'b'}
	boxTypeART = mp4.BoxType{0xA9, 'A', 'R', 'T'}
)

type mp4BoxSpan struct {
	kind     string
	start    int
	end      int
	complete bool
}

// injectMP4 grows moov with an udta/meta/ilst subtree carrying the track
// tags. Chunk offsets pointing past moov shift by the growth, so mdat stays
// addressable whether it sits before or after moov. Fragmented payloads use
// moof-relative offsets and need no patching.
func injectMP4(head []byte, trackMeta domain.TrackMetadata) ([]byte, error) {
	boxes, err := scanTopLevelBoxes(head)
	if err != nil {
		return nil, err
	}
	var moov *mp4BoxSpan
	for i := range boxes {
		if boxes[i].kind == "moov" && boxes[i].complete {
			moov = &boxes[i]
			break
		}
	}
	if moov == nil {
		return nil, errors.New("no complete moov box in buffered head")
	}

	udta, err := buildUdta(trackMeta)
	if err != nil {
		return nil, err
	}

	rewritten, err := rewriteMoov(head[moov.start:moov.end], udta, uint64(moov.end))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(head)+len(udta))
	out = append(out, head[:moov.start]...)
	out = append(out, rewritten...)
	out = append(out, head[moov.end:]...)
	return out, nil
}

func scanTopLevelBoxes(head []byte) ([]mp4BoxSpan, error) {
	var boxes []mp4BoxSpan
	off := 0
	for off+8 <= len(head) {
		size := int64(binary.BigEndian.Uint32(head[off : off+4]))
		kind := string(head[off+4 : off+8])
		headerLen := int64(8)
		switch size {
		case 0:
			size = int64(len(head) - off)
		case 1:
			if off+16 > len(head) {
				return boxes, nil
			}
			size = int64(binary.BigEndian.Uint64(head[off+8 : off+16]))
			headerLen = 16
		}
		if size < headerLen {
			return nil, fmt.Errorf("bad box size %d for %q", size, kind)
		}
		end := int64(off) + size
		complete := end <= int64(len(head))
		if !complete {
			end = int64(len(head))
		}
		boxes = append(boxes, mp4BoxSpan{kind: kind, start: off, end: int(end), complete: complete})
		if !complete {
			break
		}
		off = int(end)
	}
	return boxes, nil
}

func rewriteMoov(moovRaw, udta []byte, moovEndAbs uint64) ([]byte, error) {
	delta := uint64(len(udta))
	src := bytes.NewReader(moovRaw)
	dst := newMemWriteSeeker(len(moovRaw) + len(udta))
	w := mp4.NewWriter(dst)

	_, err := mp4.ReadBoxStructure(src, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl():
			if _, err := w.StartBox(&h.BoxInfo); err != nil {
				return nil, err
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if _, err := mp4.Marshal(w, box, h.BoxInfo.Context); err != nil {
				return nil, err
			}
			if _, err := h.Expand(); err != nil {
				return nil, err
			}
			if h.BoxInfo.Type == mp4.BoxTypeMoov() {
				if _, err := w.Write(udta); err != nil {
					return nil, err
				}
			}
			_, err = w.EndBox()
			return nil, err
		case mp4.BoxTypeUdta():
			// Dropped; the freshly built subtree replaces it.
			return nil, nil
		case mp4.BoxTypeStco():
			if _, err := w.StartBox(&h.BoxInfo); err != nil {
				return nil, err
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			stco := box.(*mp4.Stco)
			for i, offset := range stco.ChunkOffset {
				if uint64(offset) >= moovEndAbs {
					stco.ChunkOffset[i] = offset + uint32(delta)
				}
			}
			if _, err := mp4.Marshal(w, stco, h.BoxInfo.Context); err != nil {
				return nil, err
			}
			_, err = w.EndBox()
			return nil, err
		case mp4.BoxTypeCo64():
			if _, err := w.StartBox(&h.BoxInfo); err != nil {
				return nil, err
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			co64 := box.(*mp4.Co64)
			for i, offset := range co64.ChunkOffset {
				if offset >= moovEndAbs {
					co64.ChunkOffset[i] = offset + delta
				}
			}
			if _, err := mp4.Marshal(w, co64, h.BoxInfo.Context); err != nil {
				return nil, err
			}
			_, err = w.EndBox()
			return nil, err
		default:
			return nil, w.CopyBox(src, &h.BoxInfo)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite moov: %w", err)
	}
	return dst.Bytes(), nil
}

func buildUdta(trackMeta domain.TrackMetadata) ([]byte, error) {
	dst := newMemWriteSeeker(512)
	w := mp4.NewWriter(dst)

	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeUdta()}); err != nil {
		return nil, err
	}
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeMeta()}); err != nil {
		return nil, err
	}
	if _, err := mp4.Marshal(w, &mp4.Meta{}, mp4.Context{UnderUdta: true}); err != nil {
		return nil, err
	}
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeHdlr()}); err != nil {
		return nil, err
	}
	hdlr := &mp4.Hdlr{HandlerType: [4]byte{'m', 'd', 'i', 'r'}}
	if _, err := mp4.Marshal(w, hdlr, mp4.Context{UnderUdta: true}); err != nil {
		return nil, err
	}
	if _, err := w.EndBox(); err != nil {
		return nil, err
	}
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeIlst()}); err != nil {
		return nil, err
	}

	if err := writeIlstString(w, boxTypeNam, trackMeta.Title); err != nil {
		return nil, err
	}
	if trackMeta.Album != "" {
		if err := writeIlstString(w, boxTypeAlb, trackMeta.Album); err != nil {
			return nil, err
		}
	}
	if len(trackMeta.Artists) > 0 {
		if err := writeIlstString(w, boxTypeART, strings.Join(trackMeta.Artists, ", ")); err != nil {
			return nil, err
		}
	}

	for i := 0; i < 3; i++ { // ilst, meta, udta
		if _, err := w.EndBox(); err != nil {
			return nil, err
		}
	}
	return dst.Bytes(), nil
}

func writeIlstString(w *mp4.Writer, item mp4.BoxType, value string) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: item}); err != nil {
		return err
	}
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.BoxTypeData()}); err != nil {
		return err
	}
	data := &mp4.Data{DataType: mp4.DataTypeStringUTF8, Data: []byte(value)}
	if _, err := mp4.Marshal(w, data, mp4.Context{UnderIlstMeta: true}); err != nil {
		return err
	}
	if _, err := w.EndBox(); err != nil {
		return err
	}
	_, err := w.EndBox()
	return err
}

// memWriteSeeker is an in-memory io.WriteSeeker for the mp4 writer, which
// seeks back to fix box sizes.
type memWriteSeeker struct {
	buf []byte
	pos int64
}

func newMemWriteSeeker(capacity int) *memWriteSeeker {
	return &memWriteSeeker{buf: make([]byte, 0, capacity)}
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	need := m.pos + int64(len(p))
	if need > int64(len(m.buf)) {
		if need <= int64(cap(m.buf)) {
			m.buf = m.buf[:need]
		} else {
			next := make([]byte, need, 2*need)
			copy(next, m.buf)
			m.buf = next
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = need
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = m.pos + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = next
	return next, nil
}

func (m *memWriteSeeker) Bytes() []byte {
	return m.buf
}

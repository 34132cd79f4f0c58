// ABOUTME: DASH MPD parsing scoped to single-representation audio manifests
// ABOUTME: Expands SegmentTimeline repeats into numbered $Number$ template URLs
package manifest

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/noaione/spotilava/internal/domain"
)

type mpdDocument struct {
	XMLName xml.Name    `xml:"MPD"`
	Periods []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ContentType     string              `xml:"contentType,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	Codecs   string              `xml:"codecs,attr"`
	Template *mpdSegmentTemplate `xml:"SegmentTemplate"`
}

type mpdSegmentTemplate struct {
	Initialization string       `xml:"initialization,attr"`
	Media          string       `xml:"media,attr"`
	StartNumber    *int         `xml:"startNumber,attr"`
	Timeline       *mpdTimeline `xml:"SegmentTimeline"`
}

type mpdTimeline struct {
	Spans []mpdTimelineSpan `xml:"S"`
}

type mpdTimelineSpan struct {
	Duration int64 `xml:"d,attr"`
	Repeat   *int  `xml:"r,attr"`
}

// ParseMPD extracts the audio adaptation set of an MPD document into a
// Media. Segment sizes are seeded from the timeline `d` attribute, which
// is a duration, not bytes; callers must treat them as rough estimates.
func ParseMPD(doc []byte) (*Media, error) {
	var mpd mpdDocument
	if err := xml.Unmarshal(doc, &mpd); err != nil {
		return nil, fmt.Errorf("mpd parse: %s: %w", err, domain.ErrBadManifest)
	}

	var audio *mpdAdaptationSet
	for i := range mpd.Periods {
		for j := range mpd.Periods[i].AdaptationSets {
			set := &mpd.Periods[i].AdaptationSets[j]
			if set.ContentType == "audio" {
				audio = set
				break
			}
		}
		if audio != nil {
			break
		}
	}
	if audio == nil || len(audio.Representations) == 0 {
		return nil, fmt.Errorf("mpd: no audio adaptation set: %w", domain.ErrBadManifest)
	}

	rep := audio.Representations[0]
	tpl := rep.Template
	if tpl == nil || tpl.Timeline == nil {
		return nil, fmt.Errorf("mpd: no segment timeline: %w", domain.ErrBadManifest)
	}
	if tpl.Initialization == "" || tpl.Media == "" {
		return nil, fmt.Errorf("mpd: segment template missing urls: %w", domain.ErrBadManifest)
	}

	number := 0
	if tpl.StartNumber != nil {
		number = *tpl.StartNumber
	}

	media := &Media{
		MimeType: audio.MimeType,
		Codecs:   rep.Codecs,
		InitURL:  tpl.Initialization,
	}
	for _, span := range tpl.Timeline.Spans {
		repeat := 1
		if span.Repeat != nil {
			repeat = *span.Repeat
		}
		for i := 0; i < repeat; i++ {
			media.Segments = append(media.Segments, Segment{
				Number: number,
				URL:    expandNumber(tpl.Media, number),
				Size:   span.Duration,
			})
			number++
		}
	}
	if len(media.Segments) == 0 {
		return nil, fmt.Errorf("mpd: empty segment timeline: %w", domain.ErrBadManifest)
	}
	return media, nil
}

func expandNumber(template string, number int) string {
	return strings.ReplaceAll(template, "$Number$", strconv.Itoa(number))
}

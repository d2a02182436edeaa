// Package mpd is the grammar layer for template-based (MPD) manifests.
// It deserializes the XML document and parses ISO 8601 durations; all
// semantic interpretation happens in the caller.
package mpd

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MPD is the root element of a Media Presentation Description.
type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	Type                      string   `xml:"type,attr"`
	Profiles                  string   `xml:"profiles,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MinimumUpdatePeriod       string   `xml:"minimumUpdatePeriod,attr"`
	AvailabilityStartTime     string   `xml:"availabilityStartTime,attr"`
	PublishTime               string   `xml:"publishTime,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	BaseURL                   string   `xml:"BaseURL"`
	Periods                   []Period `xml:"Period"`
}

// Parse deserializes MPD document text.
func Parse(text string) (*MPD, error) {
	var doc MPD
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse MPD: %w", err)
	}
	return &doc, nil
}

// IsDynamic reports whether the presentation is live.
func (m *MPD) IsDynamic() bool {
	return m.Type == "dynamic"
}

// GetAvailabilityStartTime returns the wall-clock anchor of a dynamic
// presentation, or the zero time when none is declared.
func (m *MPD) GetAvailabilityStartTime() (time.Time, error) {
	if m.AvailabilityStartTime == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, m.AvailabilityStartTime)
}

// GetMediaPresentationDuration returns the declared total duration, or
// zero when none is declared.
func (m *MPD) GetMediaPresentationDuration() (time.Duration, error) {
	if m.MediaPresentationDuration == "" {
		return 0, nil
	}
	return ParseDuration(m.MediaPresentationDuration)
}

// Period represents one media content period.
type Period struct {
	ID       string          `xml:"id,attr"`
	Start    string          `xml:"start,attr"`
	Duration string          `xml:"duration,attr"`
	BaseURL  string          `xml:"BaseURL"`
	Sets     []AdaptationSet `xml:"AdaptationSet"`
}

// GetStart returns the period's start offset as a duration.
func (p *Period) GetStart() (time.Duration, error) {
	if p.Start == "" {
		return 0, nil
	}
	return ParseDuration(p.Start)
}

// GetDuration returns the period's declared duration, or zero.
func (p *Period) GetDuration() (time.Duration, error) {
	if p.Duration == "" {
		return 0, nil
	}
	return ParseDuration(p.Duration)
}

// AdaptationSet represents a set of interchangeable representations.
type AdaptationSet struct {
	ID              string           `xml:"id,attr"`
	ContentType     string           `xml:"contentType,attr"`
	MimeType        string           `xml:"mimeType,attr"`
	Codecs          string           `xml:"codecs,attr"`
	Lang            string           `xml:"lang,attr"`
	Label           string           `xml:"Label"`
	BaseURL         string           `xml:"BaseURL"`
	Roles           []Role           `xml:"Role"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
	Representations []Representation `xml:"Representation"`
}

// Role qualifies an adaptation set (main, alternate, subtitle, ...).
type Role struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

// Representation represents a specific media stream.
type Representation struct {
	ID                string           `xml:"id,attr"`
	Bandwidth         int              `xml:"bandwidth,attr"`
	Codecs            string           `xml:"codecs,attr"`
	MimeType          string           `xml:"mimeType,attr"`
	Width             int              `xml:"width,attr"`
	Height            int              `xml:"height,attr"`
	FrameRate         string           `xml:"frameRate,attr"`
	AudioSamplingRate int              `xml:"audioSamplingRate,attr"`
	BaseURL           string           `xml:"BaseURL"`
	SegmentTemplate   *SegmentTemplate `xml:"SegmentTemplate"`
	SegmentBase       *SegmentBase     `xml:"SegmentBase"`
}

// SegmentTemplate defines the URL structure of segments.
type SegmentTemplate struct {
	Timescale      int              `xml:"timescale,attr"`
	Duration       uint64           `xml:"duration,attr"`
	StartNumber    *uint64          `xml:"startNumber,attr"`
	Initialization string           `xml:"initialization,attr"`
	Media          string           `xml:"media,attr"`
	Timeline       *SegmentTimeline `xml:"SegmentTimeline"`
}

// GetTimescale returns the declared timescale, defaulting to 1.
func (st *SegmentTemplate) GetTimescale() uint64 {
	if st.Timescale <= 0 {
		return 1
	}
	return uint64(st.Timescale)
}

// GetStartNumber returns the first segment number, defaulting to 1.
func (st *SegmentTemplate) GetStartNumber() uint64 {
	if st.StartNumber == nil {
		return 1
	}
	return *st.StartNumber
}

// SegmentBase addresses a single-file representation through an index
// (sidx) byte range.
type SegmentBase struct {
	Timescale      int    `xml:"timescale,attr"`
	IndexRange     string `xml:"indexRange,attr"`
	Initialization *URL   `xml:"Initialization"`
}

// URL is an explicit sub-resource reference.
type URL struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

// SegmentTimeline defines the timeline of segments.
type SegmentTimeline struct {
	Segments []S `xml:"S"`
}

// S represents a single segment or a run of equal-duration segments.
type S struct {
	T uint64 `xml:"t,attr"` // start time
	D uint64 `xml:"d,attr"` // duration
	R int    `xml:"r,attr"` // repeat count, -1 means until period end
}

var durationRe = regexp.MustCompile(`(\d+\.?\d*)([HMS])`)

// ParseDuration parses an ISO 8601 duration such as "PT1H2M3.5S".
// Day components ("P2DT...") are supported; longer calendar units are
// not, as manifests never carry them.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}

	rest := strings.TrimPrefix(s, "P")
	var total time.Duration

	if idx := strings.Index(rest, "D"); idx >= 0 {
		days, err := strconv.ParseFloat(rest[:idx], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
		}
		total += time.Duration(days * 24 * float64(time.Hour))
		rest = rest[idx+1:]
	}

	rest = strings.TrimPrefix(rest, "T")
	if rest == "" {
		return total, nil
	}

	matches := durationRe.FindAllStringSubmatch(rest, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}

	for _, match := range matches {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, err
		}

		switch match[2] {
		case "H":
			total += time.Duration(value * float64(time.Hour))
		case "M":
			total += time.Duration(value * float64(time.Minute))
		case "S":
			total += time.Duration(value * float64(time.Second))
		}
	}

	return total, nil
}

package manifest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/streamkit/manifest/internal/mpd"
	"github.com/streamkit/manifest/resolveurl"
)

// SidxReference is one entry of a parsed segment index box.
type SidxReference struct {
	// ReferencedSize is the subsegment size in bytes
	ReferencedSize uint64

	// Duration is the subsegment duration in Timescale units
	Duration uint64
}

// SidxInfo carries segment-index metadata for one byte-range-addressed
// representation. The index itself is fetched and parsed by the caller;
// this layer only turns it into byte-range segments.
type SidxInfo struct {
	// Timescale of the reference durations; falls back to the
	// representation's declared timescale when zero
	Timescale uint64

	// Offset is the byte position of the first media subsegment. When
	// zero it is derived from the end of the index range.
	Offset uint64

	References []SidxReference
}

// SidxKey builds the lookup key under which callers supply index
// metadata: the representation's resolved URI plus its index range.
func SidxKey(resolvedURI, indexRange string) string {
	return resolvedURI + "-" + indexRange
}

// DASHOptions configures template-grammar parsing. The zero value is
// valid.
type DASHOptions struct {
	// Logger receives the normalization diagnostics
	Logger hclog.Logger

	// ClockOffset is the client/server clock skew, added to local time
	// when computing the live edge of dynamic presentations
	ClockOffset time.Duration

	// SidxMapping supplies parsed segment-index metadata keyed by
	// SidxKey, used to expand byte-range-addressed representations
	SidxMapping map[string]*SidxInfo

	// Now overrides the wall clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

func (o *DASHOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// ParseDASH parses MPD manifest text and returns the normalized manifest.
// Representations become playlists, grouped alternate audio and subtitle
// adaptation sets become media groups, and every rendition without a real
// addressable location is assigned a deterministic placeholder URI that
// is registered in the same dual-addressed lookup as real URIs.
func ParseDASH(text, srcURI string, opts *DASHOptions) (*Manifest, error) {
	if opts == nil {
		opts = &DASHOptions{}
	}

	doc, err := mpd.Parse(text)
	if err != nil {
		return nil, err
	}

	m := fromMPD(doc, srcURI, opts)
	Normalize(m, srcURI, opts.Logger)
	return m, nil
}

// fromMPD reshapes an MPD document into the common manifest model.
func fromMPD(doc *mpd.MPD, srcURI string, opts *DASHOptions) *Manifest {
	m := &Manifest{
		Playlists:   NewPlaylists(nil),
		MediaGroups: NewMediaGroups(),
	}
	if d, err := doc.GetMediaPresentationDuration(); err == nil {
		m.Duration = d.Seconds()
	}

	endList := !doc.IsDynamic()
	base := resolveurl.Resolve(srcURI, doc.BaseURL)

	// Representations recur across periods under the same ID; their
	// segment runs are concatenated with a discontinuity at the seam.
	videoByRep := map[string]*Playlist{}
	altByRep := map[string]*Playlist{}

	for pi := range doc.Periods {
		period := &doc.Periods[pi]
		periodBase := resolveurl.Resolve(base, period.BaseURL)

		for si := range period.Sets {
			as := &period.Sets[si]
			asBase := resolveurl.Resolve(periodBase, as.BaseURL)

			switch adaptationKind(as) {
			case "video":
				addVideoSet(m, videoByRep, doc, period, as, asBase, opts)
			case "audio":
				addAlternateSet(m, altByRep, MediaGroupAudio, "audio", doc, period, as, asBase, opts, endList)
			case "text":
				addAlternateSet(m, altByRep, MediaGroupSubtitles, "subs", doc, period, as, asBase, opts, endList)
			}
		}
	}

	for i, pl := range m.Playlists.All() {
		if pl.URI == "" {
			pl.URI = fmt.Sprintf("%s-%d", PlaceholderURI, i)
		}
		pl.TargetDuration = targetDuration(pl.Segments)
		pl.EndList = endList
	}

	return m
}

// adaptationKind classifies an adaptation set by content type, falling
// back to MIME sniffing when the attribute is absent.
func adaptationKind(as *mpd.AdaptationSet) string {
	if as.ContentType != "" {
		return as.ContentType
	}

	mt := as.MimeType
	if mt == "" && len(as.Representations) > 0 {
		mt = as.Representations[0].MimeType
	}

	switch {
	case strings.HasPrefix(mt, "video"):
		return "video"
	case strings.HasPrefix(mt, "audio"):
		return "audio"
	case strings.HasPrefix(mt, "text"),
		strings.Contains(mt, "vtt"),
		strings.Contains(mt, "ttml"):
		return "text"
	}
	return ""
}

func addVideoSet(m *Manifest, videoByRep map[string]*Playlist, doc *mpd.MPD, period *mpd.Period, as *mpd.AdaptationSet, base string, opts *DASHOptions) {
	for ri := range as.Representations {
		rep := &as.Representations[ri]
		segs := expandRepresentation(doc, period, as, rep, base, opts)

		if pl, ok := videoByRep[rep.ID]; ok && rep.ID != "" {
			if len(segs) > 0 && len(pl.Segments) > 0 {
				segs[0].Discontinuity = true
			}
			pl.Segments = append(pl.Segments, segs...)
			continue
		}

		pl := &Playlist{
			URI:        singleFileURI(as, rep),
			Attributes: representationAttributes(as, rep),
			Segments:   segs,
		}
		if pl.URI != "" {
			// single-file locations resolve through the BaseURL chain,
			// not against the manifest's own location
			pl.ResolvedURI = resolveurl.Resolve(base, pl.URI)
		}
		if rep.ID != "" {
			videoByRep[rep.ID] = pl
		}
		m.Playlists.Append(pl)
	}
}

// addAlternateSet records an audio or subtitle adaptation set as a media
// group entry whose rendition playlists are addressed by placeholder
// URIs, registered in the manifest's URI lookup. Representations that
// recur across periods are concatenated like video, never duplicated.
func addAlternateSet(m *Manifest, altByRep map[string]*Playlist, mediaType, group string, doc *mpd.MPD, period *mpd.Period, as *mpd.AdaptationSet, base string, opts *DASHOptions, endList bool) {
	label := as.Label
	if label == "" {
		label = as.Lang
	}
	if label == "" {
		label = "main"
	}

	entry := m.MediaGroups.Get(mediaType, group, label)
	if entry == nil {
		entry = &MediaGroupEntry{
			Language:   as.Lang,
			Default:    hasMainRole(as),
			AutoSelect: true,
		}
		m.MediaGroups.Add(mediaType, group, label, entry)
	}

	for ri := range as.Representations {
		rep := &as.Representations[ri]

		repKey := mediaType + "/" + group + "/" + label + "/" + rep.ID
		if pl, ok := altByRep[repKey]; ok && rep.ID != "" {
			segs := expandRepresentation(doc, period, as, rep, base, opts)
			if len(segs) > 0 && len(pl.Segments) > 0 {
				segs[0].Discontinuity = true
			}
			pl.Segments = append(pl.Segments, segs...)
			pl.TargetDuration = targetDuration(pl.Segments)
			continue
		}

		uri := singleFileURI(as, rep)
		resolved := ""
		if uri != "" {
			resolved = resolveurl.Resolve(base, uri)
		} else {
			uri = fmt.Sprintf("%s-%s-%s-%s", PlaceholderURI, mediaType, group, label)
			if n := len(entry.Playlists); n > 0 {
				uri = fmt.Sprintf("%s-%d", uri, n)
			}
		}

		rendition := &Playlist{
			URI:         uri,
			ResolvedURI: resolved,
			Attributes:  representationAttributes(as, rep),
			Segments:    expandRepresentation(doc, period, as, rep, base, opts),
			EndList:     endList,
		}
		rendition.TargetDuration = targetDuration(rendition.Segments)
		NormalizePlaylist(rendition, "", len(entry.Playlists))

		if rep.ID != "" {
			altByRep[repKey] = rendition
		}
		entry.Playlists = append(entry.Playlists, rendition)
		m.Playlists.register(rendition)
	}
}

// singleFileURI returns the representation's own location when it is
// directly addressable (no segment template in play), or "".
func singleFileURI(as *mpd.AdaptationSet, rep *mpd.Representation) string {
	if rep.SegmentTemplate == nil && as.SegmentTemplate == nil && rep.BaseURL != "" {
		return rep.BaseURL
	}
	return ""
}

func hasMainRole(as *mpd.AdaptationSet) bool {
	for _, r := range as.Roles {
		if r.Value == "main" {
			return true
		}
	}
	return false
}

func representationAttributes(as *mpd.AdaptationSet, rep *mpd.Representation) Attributes {
	attrs := Attributes{}

	if rep.Bandwidth > 0 {
		attrs["BANDWIDTH"] = rep.Bandwidth
	}
	codecs := rep.Codecs
	if codecs == "" {
		codecs = as.Codecs
	}
	if codecs != "" {
		attrs["CODECS"] = codecs
	}
	if rep.Width > 0 && rep.Height > 0 {
		attrs["RESOLUTION"] = fmt.Sprintf("%dx%d", rep.Width, rep.Height)
	}
	if rep.FrameRate != "" {
		attrs["FRAME-RATE"] = rep.FrameRate
	}
	if rep.ID != "" {
		attrs["NAME"] = rep.ID
	}

	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func targetDuration(segs []*Segment) float64 {
	var max float64
	for _, s := range segs {
		if s.Duration > max {
			max = s.Duration
		}
	}
	return math.Ceil(max)
}

// expandRepresentation turns one representation into its segment run.
// The segment template wins over byte-range addressing; a representation
// with neither is treated as a single media file.
func expandRepresentation(doc *mpd.MPD, period *mpd.Period, as *mpd.AdaptationSet, rep *mpd.Representation, base string, opts *DASHOptions) []*Segment {
	st := rep.SegmentTemplate
	if st == nil {
		st = as.SegmentTemplate
	}
	if st != nil {
		return expandTemplate(doc, period, st, rep, base, opts)
	}

	resolved := resolveurl.Resolve(base, rep.BaseURL)

	if rep.SegmentBase != nil {
		return expandSegmentBase(rep, resolved, opts)
	}

	dur, _ := period.GetDuration()
	return []*Segment{{
		URI:         rep.BaseURL,
		ResolvedURI: resolved,
		Duration:    dur.Seconds(),
	}}
}

// expandTemplate generates segments from a SegmentTemplate, either by
// walking its timeline or by duration-addressed numbering. For dynamic
// presentations without a timeline, the live edge is computed from the
// availability start time shifted by the client/server clock offset.
func expandTemplate(doc *mpd.MPD, period *mpd.Period, st *mpd.SegmentTemplate, rep *mpd.Representation, base string, opts *DASHOptions) []*Segment {
	timescale := st.GetTimescale()

	var initMap *Map
	if st.Initialization != "" {
		uri := substituteTokens(st.Initialization, rep.ID, rep.Bandwidth, 0, 0)
		initMap = &Map{URI: uri, ResolvedURI: resolveurl.Resolve(base, uri)}
	}

	periodDur, _ := period.GetDuration()
	if periodDur == 0 {
		periodDur, _ = doc.GetMediaPresentationDuration()
	}

	number := st.GetStartNumber()
	var segs []*Segment

	if st.Timeline != nil {
		var current uint64
		for _, s := range st.Timeline.Segments {
			if s.T > 0 {
				current = s.T
			}

			repeat := s.R
			if repeat < 0 {
				repeat = repeatsUntilPeriodEnd(current, s.D, periodDur, timescale)
			}

			for i := 0; i <= repeat; i++ {
				segs = append(segs, templateSegment(st, rep, base, initMap, number, current, s.D, timescale))
				current += s.D
				number++
			}
		}
		return segs
	}

	if st.Duration == 0 {
		return nil
	}

	var count int
	if doc.IsDynamic() {
		count = liveSegmentCount(doc, period, st, opts)
	} else if periodDur > 0 {
		total := uint64(periodDur.Seconds() * float64(timescale))
		count = int((total + st.Duration - 1) / st.Duration)
	}

	for i := 0; i < count; i++ {
		t := uint64(i) * st.Duration
		segs = append(segs, templateSegment(st, rep, base, initMap, number, t, st.Duration, timescale))
		number++
	}
	return segs
}

// repeatsUntilPeriodEnd resolves an open-ended repeat count (r = -1)
// against the enclosing period's duration.
func repeatsUntilPeriodEnd(current, d uint64, periodDur time.Duration, timescale uint64) int {
	if periodDur <= 0 || d == 0 {
		return 0
	}
	end := uint64(periodDur.Seconds() * float64(timescale))
	if end <= current+d {
		return 0
	}
	return int((end - current) / d) - 1
}

// liveSegmentCount computes how many duration-addressed segments are
// available at the (offset-corrected) current time.
func liveSegmentCount(doc *mpd.MPD, period *mpd.Period, st *mpd.SegmentTemplate, opts *DASHOptions) int {
	start, err := doc.GetAvailabilityStartTime()
	if err != nil || start.IsZero() {
		return 0
	}

	periodStart, _ := period.GetStart()
	now := opts.now().Add(opts.ClockOffset)

	elapsed := now.Sub(start.Add(periodStart))
	if elapsed <= 0 {
		return 0
	}

	timescale := st.GetTimescale()
	return int(uint64(elapsed.Seconds()*float64(timescale)) / st.Duration)
}

func templateSegment(st *mpd.SegmentTemplate, rep *mpd.Representation, base string, initMap *Map, number, t, d, timescale uint64) *Segment {
	uri := substituteTokens(st.Media, rep.ID, rep.Bandwidth, number, t)
	return &Segment{
		URI:         uri,
		ResolvedURI: resolveurl.Resolve(base, uri),
		Duration:    float64(d) / float64(timescale),
		Map:         initMap,
		Number:      number,
		Time:        t,
	}
}

// expandSegmentBase turns a byte-range-addressed representation into
// segments using caller-supplied segment-index metadata. Without index
// metadata the whole file becomes a single segment.
func expandSegmentBase(rep *mpd.Representation, resolved string, opts *DASHOptions) []*Segment {
	sb := rep.SegmentBase

	var initMap *Map
	if sb.Initialization != nil {
		uri := sb.Initialization.SourceURL
		if uri == "" {
			uri = rep.BaseURL
		}
		initMap = &Map{
			URI:         uri,
			ResolvedURI: resolved,
			ByteRange:   parseByteRange(sb.Initialization.Range),
		}
	}

	info := opts.SidxMapping[SidxKey(resolved, sb.IndexRange)]
	if info == nil {
		return []*Segment{{
			URI:         rep.BaseURL,
			ResolvedURI: resolved,
			Map:         initMap,
		}}
	}

	timescale := info.Timescale
	if timescale == 0 && sb.Timescale > 0 {
		timescale = uint64(sb.Timescale)
	}
	if timescale == 0 {
		timescale = 1
	}

	offset := info.Offset
	if offset == 0 {
		if br := parseByteRange(sb.IndexRange); br != nil {
			offset = uint64(br.Offset + br.Length)
		}
	}

	segs := make([]*Segment, 0, len(info.References))
	for _, ref := range info.References {
		segs = append(segs, &Segment{
			URI:         rep.BaseURL,
			ResolvedURI: resolved,
			Duration:    float64(ref.Duration) / float64(timescale),
			Map:         initMap,
			ByteRange: &ByteRange{
				Length: int64(ref.ReferencedSize),
				Offset: int64(offset),
			},
		})
		offset += ref.ReferencedSize
	}
	return segs
}

// parseByteRange parses a "first-last" byte range attribute.
func parseByteRange(s string) *ByteRange {
	first, last, ok := strings.Cut(s, "-")
	if !ok {
		return nil
	}
	start, err1 := strconv.ParseInt(first, 10, 64)
	end, err2 := strconv.ParseInt(last, 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return nil
	}
	return &ByteRange{Offset: start, Length: end - start + 1}
}

var templateTokenRe = regexp.MustCompile(`\$(RepresentationID|Bandwidth|Number|Time)(?:%0(\d+)d)?\$`)

// substituteTokens expands $RepresentationID$, $Bandwidth$, $Number$ and
// $Time$ identifiers, honoring the %0Nd width format and the $$ escape.
func substituteTokens(tpl, repID string, bandwidth int, number, t uint64) string {
	out := templateTokenRe.ReplaceAllStringFunc(tpl, func(tok string) string {
		parts := templateTokenRe.FindStringSubmatch(tok)

		var val string
		switch parts[1] {
		case "RepresentationID":
			return repID
		case "Bandwidth":
			val = strconv.Itoa(bandwidth)
		case "Number":
			val = strconv.FormatUint(number, 10)
		case "Time":
			val = strconv.FormatUint(t, 10)
		}

		if parts[2] != "" {
			width, _ := strconv.Atoi(parts[2])
			for len(val) < width {
				val = "0" + val
			}
		}
		return val
	})

	return strings.ReplaceAll(out, "$$", "$")
}

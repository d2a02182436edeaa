package manifest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/hashicorp/go-hclog"
)

// LineRewriter rewrites manifest lines before they reach the grammar
// parser. Map is applied to every line matched by Expression, allowing
// recognition of non-standard directives.
type LineRewriter struct {
	Expression *regexp.Regexp
	Map        func(line string) string
}

// Options configures HLS parsing. The zero value is valid.
type Options struct {
	// Logger receives the normalization diagnostics. Defaults to a null
	// logger.
	Logger hclog.Logger

	// CustomDecoders are registered with the grammar parser before
	// parsing begins; values they produce end up in the Custom map of
	// the manifest, playlist or segment the tag was attached to.
	CustomDecoders []m3u8.CustomDecoder

	// LineRewriters are applied to the manifest text, in order, before
	// parsing begins.
	LineRewriters []LineRewriter
}

// ParseHLS parses m3u8 manifest text and returns the normalized manifest.
// Master manifests come back with a dual-addressed playlist collection
// and resolved media-group URIs; media manifests come back normalized as
// a single playlist. srcURI becomes the manifest's own location and the
// base for all resolution; it may be empty, in which case references are
// left unresolved.
func ParseHLS(text, srcURI string, opts *Options) (*Manifest, error) {
	if opts == nil {
		opts = &Options{}
	}

	var buf bytes.Buffer
	buf.WriteString(rewriteLines(text, opts.LineRewriters))

	pl, listType, err := m3u8.DecodeWith(buf, true, opts.CustomDecoders)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	var m *Manifest
	switch listType {
	case m3u8.MASTER:
		master, ok := pl.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, fmt.Errorf("unexpected playlist type")
		}
		m = fromMasterPlaylist(master)
	case m3u8.MEDIA:
		media, ok := pl.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, fmt.Errorf("unexpected playlist type")
		}
		m = fromMediaPlaylist(media)
	default:
		return nil, fmt.Errorf("unrecognized playlist type")
	}

	Normalize(m, srcURI, opts.Logger)
	return m, nil
}

// rewriteLines applies the caller's rewrite rules line by line. Rules are
// applied in order, each seeing the previous rule's output.
func rewriteLines(text string, rules []LineRewriter) string {
	if len(rules) == 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	for i := range lines {
		for _, r := range rules {
			if r.Expression == nil || r.Map == nil {
				continue
			}
			if r.Expression.MatchString(lines[i]) {
				lines[i] = r.Map(lines[i])
			}
		}
	}
	return strings.Join(lines, "\n")
}

// fromMasterPlaylist reshapes a parsed master playlist into the common
// manifest model. Variant URIs stay relative here; resolution happens
// during normalization.
func fromMasterPlaylist(src *m3u8.MasterPlaylist) *Manifest {
	items := make([]*Playlist, 0, len(src.Variants))
	groups := NewMediaGroups()

	for _, v := range src.Variants {
		if v == nil {
			continue
		}

		for _, alt := range v.Alternatives {
			addAlternative(groups, alt)
		}

		// I-frame variants are trick-play indexes, not renditions
		if v.Iframe {
			continue
		}

		items = append(items, &Playlist{
			URI:        v.URI,
			Attributes: variantAttributes(v),
		})
	}

	return &Manifest{
		Playlists:   NewPlaylists(items),
		MediaGroups: groups,
		Playlist:    Playlist{Custom: customTags(src.Custom)},
	}
}

// variantAttributes collects the STREAM-INF attributes that were present
// in the manifest. Returns nil when the variant carries no bandwidth
// metadata at all, so that normalization can flag it.
func variantAttributes(v *m3u8.Variant) Attributes {
	attrs := Attributes{}

	if v.Bandwidth > 0 {
		attrs["BANDWIDTH"] = v.Bandwidth
	}
	if v.Codecs != "" {
		attrs["CODECS"] = v.Codecs
	}
	if v.Resolution != "" {
		attrs["RESOLUTION"] = v.Resolution
	}
	if v.FrameRate > 0 {
		attrs["FRAME-RATE"] = v.FrameRate
	}
	if v.Audio != "" {
		attrs["AUDIO"] = v.Audio
	}
	if v.Video != "" {
		attrs["VIDEO"] = v.Video
	}
	if v.Subtitles != "" {
		attrs["SUBTITLES"] = v.Subtitles
	}
	if v.Captions != "" {
		attrs["CLOSED-CAPTIONS"] = v.Captions
	}
	if v.Name != "" {
		attrs["NAME"] = v.Name
	}

	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// addAlternative records one EXT-X-MEDIA declaration in the group tree.
// The same rendition is commonly repeated on several variants; the first
// declaration wins.
func addAlternative(groups MediaGroups, alt *m3u8.Alternative) {
	if alt == nil {
		return
	}

	mediaType := strings.ToUpper(alt.Type)
	switch mediaType {
	case MediaGroupAudio, MediaGroupVideo, MediaGroupSubtitles, MediaGroupCaptions:
	default:
		return
	}

	label := alt.Name
	if label == "" {
		label = alt.Language
	}

	groups.Add(mediaType, alt.GroupId, label, &MediaGroupEntry{
		URI:        alt.URI,
		Language:   alt.Language,
		Default:    alt.Default,
		AutoSelect: strings.EqualFold(alt.Autoselect, "YES"),
	})
}

// fromMediaPlaylist reshapes a parsed media playlist. The manifest itself
// acts as the single playlist entity; no playlist collection or media
// groups are created.
func fromMediaPlaylist(src *m3u8.MediaPlaylist) *Manifest {
	m := &Manifest{}
	m.TargetDuration = src.TargetDuration
	m.MediaSequence = src.SeqNo
	m.EndList = src.Closed
	m.Custom = customTags(src.Custom)

	for _, seg := range src.Segments {
		// the parser hands back a fixed-capacity ring; trailing slots are nil
		if seg == nil {
			break
		}
		m.Segments = append(m.Segments, fromMediaSegment(seg, src))
	}

	return m
}

// fromMediaSegment converts one segment, inheriting the playlist-level
// key and initialization section when the segment declares none.
func fromMediaSegment(seg *m3u8.MediaSegment, pl *m3u8.MediaPlaylist) *Segment {
	s := &Segment{
		URI:           seg.URI,
		Duration:      seg.Duration,
		Discontinuity: seg.Discontinuity,
		Custom:        customTags(seg.Custom),
	}

	key := seg.Key
	if key == nil {
		key = pl.Key
	}
	if key != nil && !strings.EqualFold(key.Method, "NONE") {
		s.Key = &Key{
			Method:            key.Method,
			URI:               key.URI,
			IV:                key.IV,
			KeyFormat:         key.Keyformat,
			KeyFormatVersions: key.Keyformatversions,
		}
	}

	im := seg.Map
	if im == nil {
		im = pl.Map
	}
	if im != nil {
		s.Map = &Map{URI: im.URI}
		if im.Limit > 0 {
			s.Map.ByteRange = &ByteRange{Length: im.Limit, Offset: im.Offset}
		}
	}

	if seg.Limit > 0 {
		s.ByteRange = &ByteRange{Length: seg.Limit, Offset: seg.Offset}
	}

	return s
}

func customTags(src map[string]m3u8.CustomTag) map[string]m3u8.CustomTag {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]m3u8.CustomTag, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

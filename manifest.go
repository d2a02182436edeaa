// Package manifest normalizes parsed HLS and DASH manifests into a single
// consistent in-memory shape: stable numeric identifiers, resolved URIs,
// defaulted attribute maps and a playlist collection that is addressable
// both by position and by URI. Grammar parsing is delegated to external
// parsers; this package only patches and reshapes the resulting tree.
package manifest

import (
	"encoding/json"

	"github.com/grafov/m3u8"
)

// Media group type names as they appear in master manifests.
const (
	MediaGroupAudio     = "AUDIO"
	MediaGroupVideo     = "VIDEO"
	MediaGroupSubtitles = "SUBTITLES"
	MediaGroupCaptions  = "CLOSED-CAPTIONS"
)

// Attributes holds the encoding and bandwidth metadata of a playlist,
// keyed by attribute name (e.g. "BANDWIDTH", "CODECS", "RESOLUTION").
type Attributes map[string]interface{}

// ByteRange addresses a sub-range of a media resource.
type ByteRange struct {
	// Length is the number of bytes in the range
	Length int64 `json:"length"`

	// Offset is the start of the range from the beginning of the resource
	Offset int64 `json:"offset"`
}

// Key describes the encryption key that applies to a segment.
type Key struct {
	Method            string `json:"method,omitempty"`
	URI               string `json:"uri,omitempty"`
	ResolvedURI       string `json:"resolvedUri,omitempty"`
	IV                string `json:"iv,omitempty"`
	KeyFormat         string `json:"keyFormat,omitempty"`
	KeyFormatVersions string `json:"keyFormatVersions,omitempty"`
}

// Map describes the initialization section that applies to a segment.
type Map struct {
	URI         string     `json:"uri,omitempty"`
	ResolvedURI string     `json:"resolvedUri,omitempty"`
	ByteRange   *ByteRange `json:"byterange,omitempty"`
}

// Segment is one entry of a media playlist's segment sequence.
// ResolvedURI is derived from URI and is never overwritten once set.
type Segment struct {
	URI         string     `json:"uri,omitempty"`
	ResolvedURI string     `json:"resolvedUri,omitempty"`
	Duration    float64    `json:"duration"`
	Key         *Key       `json:"key,omitempty"`
	Map         *Map       `json:"map,omitempty"`
	ByteRange   *ByteRange `json:"byterange,omitempty"`

	// Discontinuity marks a coding discontinuity before this segment
	Discontinuity bool `json:"discontinuity,omitempty"`

	// Number and Time carry template-grammar addressing ($Number$/$Time$)
	Number uint64 `json:"number,omitempty"`
	Time   uint64 `json:"presentationTime,omitempty"`

	// Custom holds values produced by caller-registered tag decoders
	Custom map[string]m3u8.CustomTag `json:"custom,omitempty"`
}

// Playlist represents one rendition's media playlist. Instances are
// created bare by the grammar parsers and normalized in place; they are
// mutated, never replaced.
type Playlist struct {
	// URI is the original reference as written in the manifest. Playlists
	// without an addressable location carry a placeholder URI.
	URI string `json:"uri,omitempty"`

	// ResolvedURI is the absolute location, set only when a master URI
	// context exists. Derived, never overwritten once set.
	ResolvedURI string `json:"resolvedUri,omitempty"`

	// ID is the playlist's position within the enclosing collection
	ID int `json:"id"`

	// Attributes is never left nil after normalization
	Attributes Attributes `json:"attributes,omitempty"`

	Segments []*Segment `json:"segments,omitempty"`

	// TargetDuration is the maximum segment duration in seconds
	TargetDuration float64 `json:"targetDuration,omitempty"`

	// MediaSequence is the sequence number of the first segment
	MediaSequence uint64 `json:"mediaSequence,omitempty"`

	// EndList reports whether the playlist is closed (VOD)
	EndList bool `json:"endList,omitempty"`

	// Custom holds values produced by caller-registered tag decoders
	Custom map[string]m3u8.CustomTag `json:"custom,omitempty"`
}

// MediaGroupEntry is a leaf of the media-group tree: one alternate
// rendition (audio dub, subtitle language, caption channel).
type MediaGroupEntry struct {
	// URI is absent for muxed or non-addressable renditions
	URI string `json:"uri,omitempty"`

	// ResolvedURI is set iff URI is present and a base URI exists
	ResolvedURI string `json:"resolvedUri,omitempty"`

	Language   string `json:"language,omitempty"`
	Default    bool   `json:"default,omitempty"`
	AutoSelect bool   `json:"autoselect,omitempty"`

	// Playlists holds rendition playlists synthesized from the template
	// grammar, addressed by placeholder URIs
	Playlists []*Playlist `json:"playlists,omitempty"`
}

// MediaGroups maps media-type name -> group name -> label -> entry.
type MediaGroups map[string]map[string]map[string]*MediaGroupEntry

// NewMediaGroups returns an empty group tree with the standard media
// types pre-created.
func NewMediaGroups() MediaGroups {
	return MediaGroups{
		MediaGroupAudio:     {},
		MediaGroupVideo:     {},
		MediaGroupSubtitles: {},
		MediaGroupCaptions:  {},
	}
}

// Get returns the entry at (mediaType, group, label), or nil.
func (g MediaGroups) Get(mediaType, group, label string) *MediaGroupEntry {
	labels, ok := g[mediaType][group]
	if !ok {
		return nil
	}
	return labels[label]
}

// Add inserts an entry at (mediaType, group, label), creating intermediate
// maps as needed. An existing entry at the same position is kept.
func (g MediaGroups) Add(mediaType, group, label string, entry *MediaGroupEntry) {
	groups, ok := g[mediaType]
	if !ok {
		groups = map[string]map[string]*MediaGroupEntry{}
		g[mediaType] = groups
	}

	labels, ok := groups[group]
	if !ok {
		labels = map[string]*MediaGroupEntry{}
		groups[group] = labels
	}

	if _, ok := labels[label]; !ok {
		labels[label] = entry
	}
}

// Playlists is the ordered playlist collection of a master manifest.
// Every playlist is reachable both by its position and, once registered,
// by its URI string. Both views alias the same Playlist values.
type Playlists struct {
	items []*Playlist
	byURI map[string]*Playlist
}

// NewPlaylists wraps an ordered playlist sequence. URI registration
// happens during normalization, not here.
func NewPlaylists(items []*Playlist) *Playlists {
	return &Playlists{
		items: items,
		byURI: make(map[string]*Playlist, len(items)),
	}
}

// Len returns the number of index-keyed entries.
func (p *Playlists) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// At returns the playlist at position i.
func (p *Playlists) At(i int) *Playlist {
	return p.items[i]
}

// All returns the ordered underlying sequence. The slice is shared, not
// copied; callers must not reorder it.
func (p *Playlists) All() []*Playlist {
	if p == nil {
		return nil
	}
	return p.items
}

// ByURI returns the playlist registered under uri, or nil.
func (p *Playlists) ByURI(uri string) *Playlist {
	if p == nil {
		return nil
	}
	return p.byURI[uri]
}

// URICount returns the number of distinct URI-keyed entries.
func (p *Playlists) URICount() int {
	if p == nil {
		return 0
	}
	return len(p.byURI)
}

// Append adds a playlist to the end of the ordered sequence.
func (p *Playlists) Append(pl *Playlist) {
	p.items = append(p.items, pl)
}

// register makes pl reachable by its URI string. Playlists without a URI
// (phony entries that were never assigned a placeholder) are skipped.
func (p *Playlists) register(pl *Playlist) {
	if pl == nil || pl.URI == "" {
		return
	}
	p.byURI[pl.URI] = pl
}

// MarshalJSON renders the collection as its ordered sequence.
func (p *Playlists) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p.items)
}

// Manifest is the root entity handed back to the caller. A manifest is
// exactly one of master or media: master manifests carry Playlists and
// MediaGroups and no segments of their own; media manifests carry
// segments only. A media manifest is itself normalized as a single
// playlist, hence the embedding.
type Manifest struct {
	Playlist

	// Playlists is present only for master manifests
	Playlists *Playlists `json:"playlists,omitempty"`

	// MediaGroups is present only for master manifests
	MediaGroups MediaGroups `json:"mediaGroups,omitempty"`

	// Duration is the total presentation duration in seconds, when the
	// grammar declares one
	Duration float64 `json:"duration,omitempty"`
}

// IsMaster reports whether the manifest describes multiple renditions.
func (m *Manifest) IsMaster() bool {
	return m.Playlists != nil
}

package manifest

import (
	"github.com/hashicorp/go-hclog"

	"github.com/streamkit/manifest/resolveurl"
)

// PlaceholderURI is the prefix of synthesized identifiers assigned to
// playlists and media-group alternates that have no addressable location.
// They exist solely for URI-keyed lookup.
const PlaceholderURI = "placeholder-uri"

// NormalizePlaylist patches a single playlist in place: when a master URI
// context exists and the playlist is not yet resolved, ResolvedURI is
// derived from it; ID is set to the playlist's position; a missing
// attributes map is defaulted to an empty one, never replacing an
// existing map. Idempotent, never fails.
//
// Standalone media playlists pass an empty masterURI: their URI is
// resolved at fetch time by the caller, so ResolvedURI is left untouched.
func NormalizePlaylist(p *Playlist, masterURI string, index int) {
	if p == nil {
		return
	}

	if masterURI != "" && p.ResolvedURI == "" {
		p.ResolvedURI = resolveurl.Resolve(masterURI, p.URI)
	}

	p.ID = index

	if p.Attributes == nil {
		p.Attributes = Attributes{}
	}
}

// NormalizePlaylists normalizes every playlist of a master manifest and
// registers each one under its URI string alongside its indexed slot.
// A playlist arriving without an attributes map is a validation concern,
// surfaced as a warning; playback can proceed without bandwidth metadata.
// Idempotent; an empty collection is a no-op.
func NormalizePlaylists(pls *Playlists, masterURI string, logger hclog.Logger) {
	if pls == nil {
		return
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	for i := pls.Len() - 1; i >= 0; i-- {
		pl := pls.At(i)
		pls.register(pl)

		if pl.Attributes == nil {
			logger.Warn("invalid playlist STREAM-INF detected", "index", i, "uri", pl.URI)
		}

		NormalizePlaylist(pl, masterURI, i)
	}
}

// Normalize finishes a freshly parsed manifest in place. The source URI,
// when given, becomes the manifest's own location. Master manifests get
// their media-group URIs resolved against that location and their
// playlist collection normalized; a media manifest is normalized as a
// single playlist with no master context.
func Normalize(m *Manifest, srcURI string, logger hclog.Logger) {
	if m == nil {
		return
	}

	if srcURI != "" {
		m.URI = srcURI
	}

	if !m.IsMaster() {
		NormalizePlaylist(&m.Playlist, "", 0)
		return
	}

	ForEachMediaGroup(m, func(entry *MediaGroupEntry, _, _, _ string) {
		if entry.URI != "" && m.URI != "" {
			entry.ResolvedURI = resolveurl.Resolve(m.URI, entry.URI)
		}
	})

	NormalizePlaylists(m.Playlists, m.URI, logger)
}

// ResolveSegmentURIs derives the absolute locations of a segment and of
// its key and map sub-objects against baseURI, typically the enclosing
// playlist's resolved location. URIs that are already resolved are left
// alone.
func ResolveSegmentURIs(s *Segment, baseURI string) {
	if s == nil || baseURI == "" {
		return
	}

	if s.ResolvedURI == "" && s.URI != "" {
		s.ResolvedURI = resolveurl.Resolve(baseURI, s.URI)
	}
	if s.Key != nil && s.Key.ResolvedURI == "" && s.Key.URI != "" {
		s.Key.ResolvedURI = resolveurl.Resolve(baseURI, s.Key.URI)
	}
	if s.Map != nil && s.Map.ResolvedURI == "" && s.Map.URI != "" {
		s.Map.ResolvedURI = resolveurl.Resolve(baseURI, s.Map.URI)
	}
}

// MasterForMedia wraps a standalone media manifest in a synthetic
// single-playlist master so that code written against master manifests
// can treat both shapes uniformly. The stub playlist carries a
// placeholder URI and points at the media manifest's real location.
func MasterForMedia(media *Manifest, srcURI string) *Manifest {
	stub := &Playlist{
		URI:            PlaceholderURI,
		ResolvedURI:    srcURI,
		Attributes:     Attributes{},
		Segments:       media.Segments,
		TargetDuration: media.TargetDuration,
		MediaSequence:  media.MediaSequence,
		EndList:        media.EndList,
	}

	master := &Manifest{
		Playlist:    Playlist{URI: srcURI},
		Playlists:   NewPlaylists([]*Playlist{stub}),
		MediaGroups: NewMediaGroups(),
	}
	master.Playlists.register(stub)

	return master
}

package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT10S">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="1000" duration="2000" startNumber="1"
        initialization="$RepresentationID$/init.mp4"
        media="$RepresentationID$/seg-$Number%05d$.m4s"/>
      <Representation id="v720" bandwidth="2000000" codecs="avc1.4d401f" width="1280" height="720"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="en">
      <SegmentTemplate timescale="1000" duration="2000" startNumber="1"
        initialization="$RepresentationID$/init.mp4"
        media="$RepresentationID$/seg-$Number$.m4s"/>
      <Representation id="a1" bandwidth="128000" codecs="mp4a.40.2"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseDASH_Playlists(t *testing.T) {
	m, err := ParseDASH(testMPD, "http://example.com/dash.mpd", nil)
	require.NoError(t, err)

	require.True(t, m.IsMaster())
	assert.Equal(t, "http://example.com/dash.mpd", m.URI)
	assert.Equal(t, 10.0, m.Duration)
	require.Equal(t, 1, m.Playlists.Len())

	pl := m.Playlists.At(0)
	assert.Equal(t, "placeholder-uri-0", pl.URI)
	assert.Equal(t, "http://example.com/placeholder-uri-0", pl.ResolvedURI)
	assert.Equal(t, 0, pl.ID)
	assert.Equal(t, 2000000, pl.Attributes["BANDWIDTH"])
	assert.Equal(t, "1280x720", pl.Attributes["RESOLUTION"])
	assert.Equal(t, "avc1.4d401f", pl.Attributes["CODECS"])
	assert.True(t, pl.EndList)
	assert.Equal(t, 2.0, pl.TargetDuration)

	// The placeholder is registered in the same dual-addressed lookup
	assert.Same(t, pl, m.Playlists.ByURI("placeholder-uri-0"))

	require.Len(t, pl.Segments, 5)
	first := pl.Segments[0]
	assert.Equal(t, "v720/seg-00001.m4s", first.URI)
	assert.Equal(t, "http://example.com/v720/seg-00001.m4s", first.ResolvedURI)
	assert.Equal(t, 2.0, first.Duration)
	assert.Equal(t, uint64(1), first.Number)
	require.NotNil(t, first.Map)
	assert.Equal(t, "http://example.com/v720/init.mp4", first.Map.ResolvedURI)
}

func TestParseDASH_AudioMediaGroup(t *testing.T) {
	m, err := ParseDASH(testMPD, "http://example.com/dash.mpd", nil)
	require.NoError(t, err)

	entry := m.MediaGroups.Get(MediaGroupAudio, "audio", "en")
	require.NotNil(t, entry)
	assert.Equal(t, "en", entry.Language)
	assert.True(t, entry.AutoSelect)
	require.Len(t, entry.Playlists, 1)

	rendition := entry.Playlists[0]
	assert.Equal(t, "placeholder-uri-AUDIO-audio-en", rendition.URI)
	assert.Equal(t, 128000, rendition.Attributes["BANDWIDTH"])
	require.Len(t, rendition.Segments, 5)
	assert.Equal(t, "http://example.com/a1/seg-1.m4s", rendition.Segments[0].ResolvedURI)

	// Rendition placeholders share the master's URI lookup
	assert.Same(t, rendition, m.Playlists.ByURI("placeholder-uri-AUDIO-audio-en"))
}

func TestParseDASH_Timeline(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT6S">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="90000" media="seg-$Time$.m4s">
        <SegmentTimeline>
          <S t="0" d="180000" r="1"/>
          <S d="90000" r="-1"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v1" bandwidth="1000000"/>
    </AdaptationSet>
  </Period>
</MPD>`

	m, err := ParseDASH(text, "http://example.com/dash.mpd", nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Playlists.Len())

	segs := m.Playlists.At(0).Segments
	require.Len(t, segs, 4)

	assert.Equal(t, "seg-0.m4s", segs[0].URI)
	assert.Equal(t, "seg-180000.m4s", segs[1].URI)
	assert.Equal(t, "seg-360000.m4s", segs[2].URI)
	assert.Equal(t, "seg-450000.m4s", segs[3].URI)

	assert.Equal(t, 2.0, segs[0].Duration)
	assert.Equal(t, 1.0, segs[3].Duration)
	assert.Equal(t, uint64(4), segs[3].Number)
}

func TestParseDASH_LiveClockOffset(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="dynamic" availabilityStartTime="2026-01-01T00:00:00Z">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="1" duration="2" media="seg-$Number$.m4s"/>
      <Representation id="v1" bandwidth="1000000"/>
    </AdaptationSet>
  </Period>
</MPD>`

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return start.Add(10 * time.Second) }

	m, err := ParseDASH(text, "http://example.com/dash.mpd", &DASHOptions{Now: now})
	require.NoError(t, err)
	require.Equal(t, 1, m.Playlists.Len())
	assert.Len(t, m.Playlists.At(0).Segments, 5)
	assert.False(t, m.Playlists.At(0).EndList)

	// A client running behind the server sees more segments once the
	// clock offset is applied
	m, err = ParseDASH(text, "http://example.com/dash.mpd", &DASHOptions{
		Now:         now,
		ClockOffset: 4 * time.Second,
	})
	require.NoError(t, err)
	assert.Len(t, m.Playlists.At(0).Segments, 7)
}

func TestParseDASH_SegmentBaseSidx(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT4S">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v1" bandwidth="1000000">
        <BaseURL>video.mp4</BaseURL>
        <SegmentBase indexRange="100-199">
          <Initialization range="0-99"/>
        </SegmentBase>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

	sidx := map[string]*SidxInfo{
		SidxKey("http://example.com/video.mp4", "100-199"): {
			Timescale: 1000,
			References: []SidxReference{
				{ReferencedSize: 1000, Duration: 2000},
				{ReferencedSize: 2000, Duration: 2000},
			},
		},
	}

	m, err := ParseDASH(text, "http://example.com/dash.mpd", &DASHOptions{SidxMapping: sidx})
	require.NoError(t, err)
	require.Equal(t, 1, m.Playlists.Len())

	pl := m.Playlists.At(0)
	assert.Equal(t, "video.mp4", pl.URI)
	assert.Equal(t, "http://example.com/video.mp4", pl.ResolvedURI)

	segs := pl.Segments
	require.Len(t, segs, 2)

	assert.Equal(t, "http://example.com/video.mp4", segs[0].ResolvedURI)
	require.NotNil(t, segs[0].ByteRange)
	assert.Equal(t, int64(200), segs[0].ByteRange.Offset)
	assert.Equal(t, int64(1000), segs[0].ByteRange.Length)
	assert.Equal(t, int64(1200), segs[1].ByteRange.Offset)
	assert.Equal(t, int64(2000), segs[1].ByteRange.Length)
	assert.Equal(t, 2.0, segs[0].Duration)

	require.NotNil(t, segs[0].Map)
	require.NotNil(t, segs[0].Map.ByteRange)
	assert.Equal(t, int64(0), segs[0].Map.ByteRange.Offset)
	assert.Equal(t, int64(100), segs[0].Map.ByteRange.Length)
}

func TestParseDASH_SegmentBaseBaseURLChain(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT4S">
  <BaseURL>http://cdn.example.com/live/</BaseURL>
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v1" bandwidth="1000000">
        <BaseURL>video.mp4</BaseURL>
        <SegmentBase indexRange="100-199"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

	// Sidx metadata is keyed by the BaseURL-chain location, which the
	// playlist must agree with
	sidx := map[string]*SidxInfo{
		SidxKey("http://cdn.example.com/live/video.mp4", "100-199"): {
			Timescale:  1000,
			References: []SidxReference{{ReferencedSize: 1000, Duration: 2000}},
		},
	}

	m, err := ParseDASH(text, "http://example.com/dash.mpd", &DASHOptions{SidxMapping: sidx})
	require.NoError(t, err)
	require.Equal(t, 1, m.Playlists.Len())

	pl := m.Playlists.At(0)
	assert.Equal(t, "video.mp4", pl.URI)
	assert.Equal(t, "http://cdn.example.com/live/video.mp4", pl.ResolvedURI)

	segs := pl.Segments
	require.Len(t, segs, 1)
	assert.Equal(t, "http://cdn.example.com/live/video.mp4", segs[0].ResolvedURI)
	require.NotNil(t, segs[0].ByteRange)
	assert.Equal(t, int64(200), segs[0].ByteRange.Offset)
}

func TestParseDASH_SegmentBaseWithoutSidx(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT4S">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v1" bandwidth="1000000">
        <BaseURL>video.mp4</BaseURL>
        <SegmentBase indexRange="100-199"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

	m, err := ParseDASH(text, "http://example.com/dash.mpd", nil)
	require.NoError(t, err)

	// Without index metadata the whole file is one segment
	segs := m.Playlists.At(0).Segments
	require.Len(t, segs, 1)
	assert.Equal(t, "http://example.com/video.mp4", segs[0].ResolvedURI)
	assert.Nil(t, segs[0].ByteRange)
}

func TestParseDASH_Subtitles(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT4S">
  <Period>
    <AdaptationSet contentType="text" mimeType="text/vtt" lang="en">
      <Representation id="subs" bandwidth="256">
        <BaseURL>subs_en.vtt</BaseURL>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

	m, err := ParseDASH(text, "http://example.com/dash.mpd", nil)
	require.NoError(t, err)

	entry := m.MediaGroups.Get(MediaGroupSubtitles, "subs", "en")
	require.NotNil(t, entry)
	require.Len(t, entry.Playlists, 1)
	assert.Equal(t, "subs_en.vtt", entry.Playlists[0].URI)
	assert.Same(t, entry.Playlists[0], m.Playlists.ByURI("subs_en.vtt"))
}

func TestParseDASH_MultiPeriod(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT8S">
  <Period duration="PT4S">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="1" duration="2" media="p1-$Number$.m4s"/>
      <Representation id="v1" bandwidth="1000000"/>
    </AdaptationSet>
  </Period>
  <Period duration="PT4S">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="1" duration="2" media="p2-$Number$.m4s"/>
      <Representation id="v1" bandwidth="1000000"/>
    </AdaptationSet>
  </Period>
</MPD>`

	m, err := ParseDASH(text, "http://example.com/dash.mpd", nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Playlists.Len())

	segs := m.Playlists.At(0).Segments
	require.Len(t, segs, 4)
	assert.Equal(t, "p1-1.m4s", segs[0].URI)
	assert.Equal(t, "p2-1.m4s", segs[2].URI)
	assert.False(t, segs[1].Discontinuity)
	assert.True(t, segs[2].Discontinuity)
}

func TestParseDASH_MultiPeriodAudio(t *testing.T) {
	text := `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT8S">
  <Period duration="PT4S">
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="en">
      <SegmentTemplate timescale="1" duration="2" media="p1-$Number$.m4a"/>
      <Representation id="a1" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
  <Period duration="PT4S">
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="en">
      <SegmentTemplate timescale="1" duration="2" media="p2-$Number$.m4a"/>
      <Representation id="a1" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>`

	m, err := ParseDASH(text, "http://example.com/dash.mpd", nil)
	require.NoError(t, err)

	// One rendition spanning both periods, like video
	entry := m.MediaGroups.Get(MediaGroupAudio, "audio", "en")
	require.NotNil(t, entry)
	require.Len(t, entry.Playlists, 1)

	segs := entry.Playlists[0].Segments
	require.Len(t, segs, 4)
	assert.Equal(t, "p1-1.m4a", segs[0].URI)
	assert.Equal(t, "p2-1.m4a", segs[2].URI)
	assert.False(t, segs[1].Discontinuity)
	assert.True(t, segs[2].Discontinuity)
	assert.Equal(t, 2.0, entry.Playlists[0].TargetDuration)
}

func TestParseDASH_Malformed(t *testing.T) {
	_, err := ParseDASH("<not-an-mpd", "http://example.com/dash.mpd", nil)
	assert.Error(t, err)
}

func TestSubstituteTokens(t *testing.T) {
	tests := []struct {
		tpl  string
		want string
	}{
		{"$RepresentationID$/seg-$Number$.m4s", "v1/seg-7.m4s"},
		{"seg-$Number%05d$.m4s", "seg-00007.m4s"},
		{"seg-$Time$.m4s", "seg-90000.m4s"},
		{"$Bandwidth$/seg.m4s", "1000000/seg.m4s"},
		{"literal$$dollar", "literal$dollar"},
	}

	for _, tt := range tests {
		got := substituteTokens(tt.tpl, "v1", 1000000, 7, 90000)
		assert.Equal(t, tt.want, got, "template %s", tt.tpl)
	}
}

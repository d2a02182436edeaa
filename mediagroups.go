package manifest

import "sort"

// groupWalkOrder fixes the media-type priority of the walk. Video groups
// describe the variant streams themselves and closed captions never carry
// URIs, so only audio and subtitles are visited.
var groupWalkOrder = []string{MediaGroupAudio, MediaGroupSubtitles}

// MediaGroupFunc is applied to each media-group leaf entry during a walk.
type MediaGroupFunc func(entry *MediaGroupEntry, mediaType, group, label string)

// ForEachMediaGroup applies fn to every audio and subtitle group entry of
// a master manifest. Media types are visited in fixed priority order;
// groups and labels are visited in deterministic (sorted key) order, as
// the nested maps carry no declaration order. All side effects happen
// through fn.
func ForEachMediaGroup(m *Manifest, fn MediaGroupFunc) {
	if m == nil || m.MediaGroups == nil {
		return
	}

	for _, mediaType := range groupWalkOrder {
		groups := m.MediaGroups[mediaType]
		for _, group := range sortedKeys(groups) {
			labels := groups[group]
			for _, label := range sortedKeys(labels) {
				fn(labels[label], mediaType, group, label)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
